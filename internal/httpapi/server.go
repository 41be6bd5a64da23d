// Package httpapi implements the HTTP/WS transport framing stated as the
// one external interface in spec §6: a thin request-scoped layer over the
// task engine, pipeline, watchdog suite, webhook engine, routing queue,
// noise budget, and chat service. Handlers are linear procedures per
// spec §9 ("Coroutine control flow in handlers... no exceptions for
// control flow") — every domain error is a *apperr.Error returned up to a
// single envelope writer.
//
// Routing itself is deliberately out of scope per spec §1 ("the HTTP/WS
// transport framing... is deliberately OUT of scope; it is treated as an
// external collaborator") — this package exists only because §6 states the
// surface's contracts and SPEC_FULL §10 notes the HTTP surface is still
// built as the one stated external interface, just without the dashboard
// HTML, markdown doc serving, .ics export, or embeddings it deliberately
// excludes.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"

	"github.com/opsgovernor/governor/internal/chat"
	"github.com/opsgovernor/governor/internal/config"
	"github.com/opsgovernor/governor/internal/eventbus"
	"github.com/opsgovernor/governor/internal/logging"
	"github.com/opsgovernor/governor/internal/metrics"
	"github.com/opsgovernor/governor/internal/noise"
	"github.com/opsgovernor/governor/internal/pipeline"
	"github.com/opsgovernor/governor/internal/prreview"
	"github.com/opsgovernor/governor/internal/ratelimit"
	"github.com/opsgovernor/governor/internal/routing"
	"github.com/opsgovernor/governor/internal/store"
	"github.com/opsgovernor/governor/internal/task"
	"github.com/opsgovernor/governor/internal/watchdog"
	"github.com/opsgovernor/governor/internal/webhook"
)

// Server wires every component reachable from the HTTP surface.
type Server struct {
	cfg       *config.Watcher
	log       *logging.Logger
	metrics   *metrics.Registry
	limiter   *ratelimit.Limiter
	bus       *eventbus.Bus

	tasks      *task.Engine
	pipeline   *pipeline.Pipeline
	watchdogs  *watchdog.Suite
	webhooks   *webhook.Engine
	routingQ   *routing.Queue
	auditRepo  *store.AuditRepo
	watchdogRepo *store.WatchdogRepo
	noiseBudget *noise.Budget
	integrity  *noise.Integrity
	chatSvc    *chat.Service
	prClient   prreview.Client
}

// Deps bundles every component New requires, avoiding an unwieldy
// constructor parameter list as the surface grows.
type Deps struct {
	Config      *config.Watcher
	Log         *logging.Logger
	Metrics     *metrics.Registry
	Bus         *eventbus.Bus
	Tasks       *task.Engine
	Pipeline    *pipeline.Pipeline
	Watchdogs   *watchdog.Suite
	Webhooks    *webhook.Engine
	RoutingQ    *routing.Queue
	AuditRepo   *store.AuditRepo
	WatchdogRepo *store.WatchdogRepo
	NoiseBudget *noise.Budget
	Integrity   *noise.Integrity
	Chat        *chat.Service
	PRClient    prreview.Client
}

func New(d Deps) *Server {
	return &Server{
		cfg: d.Config, log: d.Log, metrics: d.Metrics, bus: d.Bus,
		limiter:     ratelimit.New(ratelimit.DefaultConfig()),
		tasks:       d.Tasks,
		pipeline:    d.Pipeline,
		watchdogs:   d.Watchdogs,
		webhooks:    d.Webhooks,
		routingQ:    d.RoutingQ,
		auditRepo:   d.AuditRepo,
		watchdogRepo: d.WatchdogRepo,
		noiseBudget: d.NoiseBudget,
		integrity:   d.Integrity,
		chatSvc:     d.Chat,
		prClient:    d.PRClient,
	}
}

// Router assembles the chi mux: global middleware, then per-group routes,
// matching the teacher's cmd/gateway route-group composition.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogging)
	r.Use(s.metricsMiddleware)
	r.Use(s.rateLimit)

	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleCreateTask)
		r.Post("/batch-create", s.handleBatchCreateTasks)
		r.Get("/next", s.handleNextTask)
		r.Get("/intake-schema", s.handleIntakeSchema)
		r.Get("/templates/{type}", s.handleTaskTemplate)
		r.Get("/recurring", s.handleRecurringTasks)
		r.Get("/{id}", s.handleGetTask)
		r.Patch("/{id}", s.handlePatchTask)
		r.Delete("/{id}", s.handleDeleteTask)
		r.Post("/{id}/claim", s.handleClaimTask)
		r.Post("/{id}/review", s.handleReviewTask)
		r.Post("/{id}/outcome", s.handleOutcomeTask)
		r.Post("/{id}/precheck", s.handlePrecheckTask)
		r.Get("/{id}/history", s.handleTaskHistory)
		r.Get("/{id}/comments", s.handleTaskComments)
		r.Post("/{id}/comments", s.handleAddTaskComment)
		r.Get("/{id}/artifacts", s.handleTaskArtifacts)
		r.Get("/{id}/pr-review", s.handleTaskPRReview)
	})

	r.Route("/reflections", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/", s.handleListReflections)
		r.Post("/", s.handleSubmitReflection)
		r.Get("/{id}", s.handleGetReflection)
	})
	r.Route("/insights", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/", s.handleListInsights)
		r.Post("/ingest", s.handleSubmitReflection)
		r.Get("/orphans", s.handleInsightOrphans)
		r.Post("/reconcile", s.handleInsightReconcile)
		r.Get("/{id}", s.handleGetInsight)
		r.Post("/{id}/triage", s.handleInsightTriage)
		r.Post("/{id}/promote", s.handleInsightPromote)
	})

	r.Route("/health", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/idle-nudge/tick", s.handleIdleNudgeTick)
		r.Post("/cadence-watchdog/tick", s.handleCadenceTick)
		r.Post("/mention-rescue/tick", s.handleMentionRescueTick)
		r.Post("/working-contract/tick", s.handleSweeperTick)
		r.Post("/board-health/tick", s.handleBoardHealthTick)
		r.Post("/escalations/tick", s.handleReminderTick)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/deliver", s.handleWebhookDeliver)
		r.Get("/events", s.handleListDeadLetterAsEvents)
		r.Get("/events/{id}", s.handleGetWebhookEvent)
		r.Get("/dlq", s.handleWebhookDLQ)
		r.Post("/events/{id}/replay", s.handleWebhookReplay)
		r.Get("/stats", s.handleWebhookStats)
		r.Mount("/incoming", s.incomingWebhookRouter())
	})

	r.Route("/audit", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/reviews", s.handleAuditReviews)
		r.Get("/mutation-alerts", s.handleMutationAlerts)
	})

	r.Route("/routing", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/approvals", s.handleRoutingApprovalsPending)
		r.Post("/approvals/{id}/decide", s.handleRoutingApprovalDecide)
	})

	r.Route("/policy", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/", s.handleGetPolicy)
		r.Patch("/", s.handlePatchPolicy)
		r.Post("/reset", s.handleResetPolicy)
	})

	r.Get("/events/subscribe", s.handleEventsSubscribe)
	r.With(s.authenticate).Get("/chat/ws", s.handleChatWS)

	return r
}

// incomingWebhookRouter is mounted under /webhooks/incoming using
// gorilla/mux rather than chi: it exists to exercise the teacher's other
// documented router (SPEC_FULL §2 "gorilla/mux is kept for the legacy-
// style webhook-incoming multiplexer to exercise both") as a standalone
// net/http.Handler any chi route can mount.
func (s *Server) incomingWebhookRouter() http.Handler {
	m := mux.NewRouter()
	m.HandleFunc("/{provider}", s.handleIncomingWebhook).Methods(http.MethodPost)
	return m
}
