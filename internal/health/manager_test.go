package health

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/loginserver/internal/config"
	"github.com/energizer-project/loginserver/internal/events"
	"github.com/energizer-project/loginserver/internal/metrics"
	"github.com/energizer-project/loginserver/internal/util"
)

type fakeBacklog struct{ length, capacity int }

func (f fakeBacklog) Len() int { return f.length }
func (f fakeBacklog) Cap() int { return f.capacity }

type fakeDrops struct{ total uint64 }

func (f *fakeDrops) Dropped() uint64 { return f.total }

type fakePlayers int

func (f fakePlayers) Count() int { return int(f) }

func collect(t *testing.T, bus *events.EventBus, typ events.EventType) <-chan events.Event {
	t.Helper()
	ch := make(chan events.Event, 8)
	bus.Subscribe(typ, "test", func(_ context.Context, e events.Event) error {
		ch <- e
		return nil
	})
	return ch
}

func expectAlert(t *testing.T, ch <-chan events.Event, check string) events.HealthAlertPayload {
	t.Helper()
	select {
	case e := <-ch:
		payload, ok := e.Payload.(events.HealthAlertPayload)
		require.True(t, ok)
		assert.Equal(t, check, payload.Check)
		return payload
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s alert", check)
	}
	return events.HealthAlertPayload{}
}

func expectNone(t *testing.T, bus *events.EventBus, ch <-chan events.Event) {
	t.Helper()
	bus.Stop()
	assert.Empty(t, ch)
}

func TestCheckEventQueue(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Health.QueueWarnPercent = 80

	bus := events.NewEventBus()
	alerts := collect(t, bus, events.EventHealthAlert)

	NewManager(cfg, bus, fakeBacklog{length: 90, capacity: 100}, fakePlayers(0)).checkEventQueue(context.Background())
	payload := expectAlert(t, alerts, "event_queue")
	assert.Equal(t, "warning", payload.Level)
	assert.Contains(t, payload.Message, "90%")

	NewManager(cfg, bus, fakeBacklog{length: 10, capacity: 100}, fakePlayers(0)).checkEventQueue(context.Background())
	expectNone(t, bus, alerts)
}

func TestCheckDumpDrops(t *testing.T) {
	bus := events.NewEventBus()
	alerts := collect(t, bus, events.EventHealthAlert)
	collector := metrics.New()
	drops := &fakeDrops{total: 5}

	m := NewManager(config.DefaultConfig(), bus, fakeBacklog{}, fakePlayers(0),
		WithDump(drops), WithMetrics(collector))

	m.checkDumpDrops(context.Background())
	payload := expectAlert(t, alerts, "dump_drops")
	assert.Contains(t, payload.Message, "dropped 5 records")

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "loginserver_dump_dropped_total 5")

	// unchanged total: no further alert
	m.checkDumpDrops(context.Background())
	expectNone(t, bus, alerts)
}

func TestCheckProcessResources(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Health.MaxRSSMB = 100

	bus := events.NewEventBus()
	alerts := collect(t, bus, events.EventHealthAlert)

	m := NewManager(cfg, bus, fakeBacklog{}, fakePlayers(0))
	m.usage = func() (*util.ProcessUsage, error) {
		return &util.ProcessUsage{RSSMB: 250}, nil
	}
	m.checkProcessResources(context.Background())
	payload := expectAlert(t, alerts, "process_resources")
	assert.Equal(t, "error", payload.Level)

	m.usage = func() (*util.ProcessUsage, error) { return nil, errors.New("unsupported") }
	m.checkProcessResources(context.Background())
	expectNone(t, bus, alerts)
}

func TestHeartbeat(t *testing.T) {
	bus := events.NewEventBus()
	beats := collect(t, bus, events.EventHeartbeat)

	NewManager(config.DefaultConfig(), bus, fakeBacklog{length: 3, capacity: 10}, fakePlayers(7)).heartbeat(context.Background())

	select {
	case e := <-beats:
		payload := e.Payload.(map[string]interface{})
		assert.Equal(t, 7, payload["players"])
		assert.Equal(t, 3, payload["queue_depth"])
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat")
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	m := NewManager(cfg, events.NewEventBus(), fakeBacklog{capacity: 10}, fakePlayers(0))
	m.usage = func() (*util.ProcessUsage, error) { return &util.ProcessUsage{}, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("health manager did not stop")
	}
}
