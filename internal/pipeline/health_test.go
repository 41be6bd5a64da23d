package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opsgovernor/governor/internal/eventbus"
)

// =============================================================================
// Health Tests
// =============================================================================

func TestHealth_NotBrokenWhenNoReflections(t *testing.T) {
	p := &Pipeline{stats: window{since: time.Now()}}
	status := p.Health(time.Now())
	assert.False(t, status.Broken)
}

func TestHealth_NotBrokenBeforeWindowElapses(t *testing.T) {
	now := time.Now()
	p := &Pipeline{stats: window{since: now, reflectionsIn: 3, insightActivity: 0}}
	status := p.Health(now.Add(time.Minute))
	assert.False(t, status.Broken)
}

func TestHealth_BrokenWhenReflectionsInWithNoInsightActivity(t *testing.T) {
	start := time.Now()
	p := &Pipeline{stats: window{since: start, reflectionsIn: 3, insightActivity: 0}}
	status := p.Health(start.Add(healthWindow + time.Minute))
	assert.True(t, status.Broken)
}

func TestHealth_ResetsWindowAfterElapsing(t *testing.T) {
	start := time.Now()
	p := &Pipeline{stats: window{since: start, reflectionsIn: 1, insightActivity: 1}}
	later := start.Add(healthWindow + time.Minute)
	status := p.Health(later)
	assert.False(t, status.Broken)
	assert.Equal(t, 0, p.stats.reflectionsIn)
}

// =============================================================================
// Tick Tests
// =============================================================================

func TestTick_PublishesAlertWhenBroken(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(eventbus.Filter{Kinds: []eventbus.Kind{eventbus.KindAlert}})
	defer unsub()

	start := time.Now()
	p := &Pipeline{bus: bus, stats: window{since: start, reflectionsIn: 5, insightActivity: 0}}
	p.Tick(nil, start.Add(healthWindow+time.Minute))

	select {
	case e := <-ch:
		assert.Equal(t, eventbus.KindAlert, e.Kind)
	default:
		t.Fatal("expected an alert event to be published")
	}
}

func TestTick_DebouncesRepeatAlerts(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(eventbus.Filter{Kinds: []eventbus.Kind{eventbus.KindAlert}})
	defer unsub()

	start := time.Now()
	p := &Pipeline{bus: bus, stats: window{since: start, reflectionsIn: 5, insightActivity: 0}}
	now := start.Add(healthWindow + time.Minute)
	p.Tick(nil, now)
	<-ch

	p.stats = window{since: start, reflectionsIn: 5, insightActivity: 0}
	p.Tick(nil, now.Add(time.Minute))

	select {
	case <-ch:
		t.Fatal("expected the second alert to be debounced")
	default:
	}
}
