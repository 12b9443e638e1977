package login

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/loginserver/internal/metrics"
	"github.com/energizer-project/loginserver/internal/network"
	"github.com/energizer-project/loginserver/internal/player"
)

type errOutbox struct{ err error }

func (o errOutbox) Enqueue(player.Outbound) error { return o.err }

func TestMeteredOutbox_CountsFullQueue(t *testing.T) {
	collector := metrics.New()

	full := meteredOutbox{Outbox: errOutbox{err: network.ErrQueueFull}, metrics: collector}
	assert.ErrorIs(t, full.Enqueue(player.Outbound{Data: []byte{1}}), network.ErrQueueFull)

	closed := meteredOutbox{Outbox: errOutbox{err: network.ErrConnectionClosed}, metrics: collector}
	assert.ErrorIs(t, closed.Enqueue(player.Outbound{}), network.ErrConnectionClosed)

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "loginserver_outbound_dropped_total 1")
}

func TestMeteredOutbox_NilMetrics(t *testing.T) {
	o := meteredOutbox{Outbox: errOutbox{err: network.ErrQueueFull}}
	assert.NotPanics(t, func() { _ = o.Enqueue(player.Outbound{}) })
}
