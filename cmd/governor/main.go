// Command governor runs the execution-governance core: the task
// lifecycle engine, reflection/insight pipeline, background watchdog
// suite, webhook delivery engine, routing/approval queue, noise budget,
// and chat service, all behind one HTTP/WS surface, generalized from the
// teacher's cmd/gateway entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/opsgovernor/governor/internal/chat"
	"github.com/opsgovernor/governor/internal/config"
	"github.com/opsgovernor/governor/internal/eventbus"
	"github.com/opsgovernor/governor/internal/httpapi"
	"github.com/opsgovernor/governor/internal/logging"
	"github.com/opsgovernor/governor/internal/metrics"
	"github.com/opsgovernor/governor/internal/noise"
	"github.com/opsgovernor/governor/internal/pipeline"
	"github.com/opsgovernor/governor/internal/prreview"
	"github.com/opsgovernor/governor/internal/routing"
	"github.com/opsgovernor/governor/internal/store"
	"github.com/opsgovernor/governor/internal/task"
	"github.com/opsgovernor/governor/internal/watchdog"
	"github.com/opsgovernor/governor/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New("governor", cfg.Logging.Level, cfg.Logging.Format)

	cfgPath := os.Getenv("GOVERNOR_CONFIG_FILE")
	watcher := config.NewWatcher(cfg, cfgPath)
	stopWatch := make(chan struct{})
	if err := watcher.Watch(stopWatch); err != nil {
		log.WithError(err).Warn("config file watch disabled")
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}
	defer db.Close()

	taskRepo := store.NewTaskRepo(db)
	auditRepo := store.NewAuditRepo(db)
	reflectionRepo := store.NewReflectionRepo(db)
	watchdogRepo := store.NewWatchdogRepo(db)
	webhookRepo := store.NewWebhookRepo(db)
	noiseRepo := store.NewNoiseRepo(db)
	chatRepo := store.NewChatRepo(db)

	bus := eventbus.New()
	metricsReg := metrics.New()

	prClient := prreview.NewHTTPClient(os.Getenv("GOVERNOR_PR_PROVIDER_URL"), os.Getenv("GOVERNOR_PR_PROVIDER_TOKEN"), 10*time.Second)

	taskEngine := task.New(taskRepo, auditRepo, reflectionRepo, bus, log, watcher, prClient)
	pipe := pipeline.New(reflectionRepo, taskRepo, taskEngine, bus, log, watcher)
	webhookEngine := webhook.New(webhookRepo, bus, log, watcher)
	chatSvc := chat.New(chatRepo, bus)
	watchdogSuite := watchdog.New(taskRepo, auditRepo, watchdogRepo, chatSvc, bus, webhookEngine, watcher, log)
	routingQ := routing.NewQueue(taskRepo, auditRepo)
	noiseBudget := noise.New(noiseRepo, watcher)

	var integrity *noise.Integrity
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		integrity = noise.NewIntegrityWithRedis(noiseRepo, rdb)
	} else {
		integrity = noise.NewIntegrity(noiseRepo)
	}

	scheduler := watchdog.NewScheduler(watchdogSuite, prClient)
	runCtx, cancelRun := context.WithCancel(context.Background())
	scheduler.Start(runCtx)

	recurring := watchdog.NewRecurringScheduler(watchdogSuite)
	if err := recurring.Start(runCtx); err != nil {
		log.WithError(err).Warn("recurring task scheduler failed to start")
	}

	srv := httpapi.New(httpapi.Deps{
		Config: watcher, Log: log, Metrics: metricsReg, Bus: bus,
		Tasks: taskEngine, Pipeline: pipe, Watchdogs: watchdogSuite,
		Webhooks: webhookEngine, RoutingQ: routingQ, AuditRepo: auditRepo,
		WatchdogRepo: watchdogRepo, NoiseBudget: noiseBudget, Integrity: integrity,
		Chat: chatSvc, PRClient: prClient,
	})

	port := cfg.Server.Port
	if port == 0 {
		port = 8088
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(map[string]interface{}{"addr": httpServer.Addr}).Info("governor listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)

	recurring.Stop()
	scheduler.Stop()
	cancelRun()
	close(stopWatch)
}
