package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Connections(t *testing.T) {
	c := New()

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.ConnectionDenied("limit")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connectionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsDenied.WithLabelValues("limit")))
}

func TestCollector_DecodeAndDisconnect(t *testing.T) {
	c := New()

	c.MessageDecoded(3)
	c.MessageDecoded(1)
	c.RawPacketsReceived(5)
	c.Disconnect("truncated_packet")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.messagesDecoded))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.objectsDecoded))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.rawPackets))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.disconnects.WithLabelValues("truncated_packet")))
}

func TestCollector_SetDumpDroppedIsMonotonic(t *testing.T) {
	c := New()

	c.SetDumpDropped(4)
	c.SetDumpDropped(4)
	c.SetDumpDropped(9)
	c.SetDumpDropped(2)

	assert.Equal(t, 9.0, testutil.ToFloat64(c.dumpDropped))
}

func TestCollector_SetPlayers(t *testing.T) {
	c := New()

	c.SetPlayers(map[string]int{"handshake": 2, "lobby": 1})
	c.SetPlayers(map[string]int{"lobby": 3})

	assert.Equal(t, 3.0, testutil.ToFloat64(c.playersByState.WithLabelValues("lobby")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.playersByState))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ConnectionOpened()
		c.Disconnect("parse_failure")
		c.PacketSent(10)
		c.SetPlayers(nil)
	})
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.PacketSent(12)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "loginserver_bytes_sent_total 12")
	assert.Contains(t, string(body), "go_goroutines")
}
