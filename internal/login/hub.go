// Package login runs the central event loop of the login server. The Hub
// consumes client events from the reader queue, owns every Player and
// drives their state machines.
package login

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/loginserver/internal/db"
	"github.com/energizer-project/loginserver/internal/events"
	"github.com/energizer-project/loginserver/internal/metrics"
	"github.com/energizer-project/loginserver/internal/network"
	"github.com/energizer-project/loginserver/internal/player"
	"github.com/energizer-project/loginserver/internal/protocol"
	"github.com/energizer-project/loginserver/internal/util"
)

// Registry resolves a client id to its live connection.
type Registry interface {
	Get(id uint32) (*network.Connection, bool)
	Kick(id uint32) error
}

// SessionRecorder persists session history.
type SessionRecorder interface {
	RecordConnect(ctx context.Context, start db.SessionStart) (int64, error)
	RecordDisconnect(ctx context.Context, id int64, end db.SessionEnd) error
}

// closedOutbox stands in for a connection that went away before the Hub
// saw its Connected event.
type closedOutbox struct{}

func (closedOutbox) Enqueue(player.Outbound) error { return network.ErrConnectionClosed }

// meteredOutbox counts replies dropped by a full outbound queue.
type meteredOutbox struct {
	player.Outbox
	metrics *metrics.Collector
}

func (o meteredOutbox) Enqueue(out player.Outbound) error {
	err := o.Outbox.Enqueue(out)
	if errors.Is(err, network.ErrQueueFull) {
		o.metrics.OutboundDropped()
	}
	return err
}

type session struct {
	player   *player.Player
	row      int64
	messages uint64
}

// Hub is the single consumer of the client event queue.
type Hub struct {
	queue    *events.Queue
	registry Registry
	bus      *events.EventBus
	sessions SessionRecorder
	metrics  *metrics.Collector
	codec    *protocol.EnumBlockCodec
	greeting func() Greeting
	logger   zerolog.Logger

	mu      sync.RWMutex
	players map[uint32]*session
}

// HubOption configures optional Hub collaborators.
type HubOption func(*Hub)

// WithSessions records every session in store.
func WithSessions(store SessionRecorder) HubOption {
	return func(h *Hub) {
		h.sessions = store
	}
}

// WithEventBus emits player telemetry on bus.
func WithEventBus(bus *events.EventBus) HubOption {
	return func(h *Hub) {
		h.bus = bus
	}
}

// WithMetrics publishes the per-state player gauge on m.
func WithMetrics(m *metrics.Collector) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

// NewHub creates a Hub. greeting is read for every new client so MOTD
// changes apply without a restart.
func NewHub(queue *events.Queue, registry Registry, codec *protocol.EnumBlockCodec, greeting func() Greeting, opts ...HubOption) *Hub {
	h := &Hub{
		queue:    queue,
		registry: registry,
		codec:    codec,
		greeting: greeting,
		players:  make(map[uint32]*session),
		logger:   util.ComponentLogger("hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run consumes client events until ctx is cancelled, then ends every
// remaining session.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info().Msg("hub started")
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-h.queue.Events():
			h.handle(ctx, event)
		}
	}
}

func (h *Hub) handle(ctx context.Context, event events.Event) {
	switch event.Type {
	case events.EventClientConnected:
		payload, ok := event.Payload.(events.ClientConnectedPayload)
		if !ok {
			h.logger.Error().Uint32("client_id", event.ClientID).Msg("invalid connected payload")
			return
		}
		h.onConnected(ctx, player.Identity{ID: payload.ID, IP: payload.IP, Port: payload.Port})

	case events.EventClientMessage:
		payload, ok := event.Payload.(events.ClientMessagePayload)
		if !ok {
			h.logger.Error().Uint32("client_id", event.ClientID).Msg("invalid message payload")
			return
		}
		h.onMessage(event.ClientID, payload)

	case events.EventClientDisconnected:
		h.onDisconnected(ctx, event.ClientID)

	default:
		h.logger.Warn().Str("type", string(event.Type)).Msg("unexpected event on client queue")
	}
}

func (h *Hub) onConnected(ctx context.Context, identity player.Identity) {
	var outbox player.Outbox = closedOutbox{}
	if conn, ok := h.registry.Get(identity.ID); ok {
		outbox = meteredOutbox{Outbox: conn, metrics: h.metrics}
	}

	p := player.New(identity, outbox)
	p.OnTransition(h.onTransition)
	s := &session{player: p}

	if h.sessions != nil {
		row, err := h.sessions.RecordConnect(ctx, db.SessionStart{
			ClientID: identity.ID,
			IP:       identity.IPString(),
			Port:     identity.Port,
			At:       time.Now(),
		})
		if err != nil {
			h.logger.Warn().Err(err).Uint32("client_id", identity.ID).Msg("failed to record session")
		}
		s.row = row
	}

	h.mu.Lock()
	h.players[identity.ID] = s
	h.mu.Unlock()

	h.logger.Info().Str("client", identity.String()).Msg("client connected")
	h.emit(ctx, events.EventPlayerJoined, p.Snapshot(), "", 0)

	p.SetState(NewHandshake(h.codec, h.greeting()))
}

func (h *Hub) onMessage(id uint32, msg events.ClientMessagePayload) {
	h.mu.Lock()
	s, ok := h.players[id]
	if ok {
		s.messages++
	}
	h.mu.Unlock()

	if !ok {
		h.logger.Warn().Uint32("client_id", id).Msg("message from unknown client")
		return
	}

	if msg.Sequence != nil {
		s.player.SetLastReceivedSequence(*msg.Sequence)
	}
	for _, obj := range msg.Objects {
		if err := s.player.HandleRequest(obj); err != nil {
			h.logger.Warn().Err(err).Uint32("client_id", id).Msg("request dropped")
		}
	}
}

func (h *Hub) onDisconnected(ctx context.Context, id uint32) {
	h.mu.Lock()
	s, ok := h.players[id]
	delete(h.players, id)
	h.mu.Unlock()

	if !ok {
		h.logger.Warn().Uint32("client_id", id).Msg("disconnect from unknown client")
		return
	}

	h.finish(ctx, s, s.player.StateName())
	h.logger.Info().Str("client", s.player.Identity().String()).Msg("client disconnected")
	h.updatePlayerGauge()
}

// finish runs the exit hook and closes the session record.
func (h *Hub) finish(ctx context.Context, s *session, finalState string) {
	snap := s.player.Snapshot()
	s.player.Exit()

	if h.sessions != nil && s.row != 0 {
		err := h.sessions.RecordDisconnect(ctx, s.row, db.SessionEnd{
			LoginName:  snap.LoginName,
			FinalState: finalState,
			Messages:   s.messages,
			At:         time.Now(),
		})
		if err != nil {
			h.logger.Warn().Err(err).Uint32("client_id", snap.ID).Msg("failed to close session record")
		}
	}

	h.emit(ctx, events.EventPlayerLeft, snap, "", s.messages)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	remaining := h.players
	h.players = make(map[uint32]*session)
	h.mu.Unlock()

	// The run context is already cancelled here.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, s := range remaining {
		h.finish(ctx, s, "shutdown")
	}
	h.updatePlayerGauge()

	if h.bus != nil {
		h.bus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "hub"})
	}
	h.logger.Info().Int("players", len(remaining)).Msg("hub stopped")
}

func (h *Hub) onTransition(p *player.Player, prev, next string) {
	h.mu.RLock()
	var messages uint64
	if s, ok := h.players[p.ID()]; ok {
		messages = s.messages
	}
	h.mu.RUnlock()

	h.emit(context.Background(), events.EventPlayerStateChanged, p.Snapshot(), prev, messages)
	h.updatePlayerGauge()
}

func (h *Hub) emit(ctx context.Context, typ events.EventType, snap player.Snapshot, prevState string, messages uint64) {
	if h.bus == nil {
		return
	}
	h.bus.Emit(ctx, events.Event{
		Type:     typ,
		Source:   events.ClientSource(snap.ID),
		ClientID: snap.ID,
		Payload: events.PlayerPayload{
			ID:        snap.ID,
			IP:        snap.IP,
			Port:      snap.Port,
			State:     snap.State,
			PrevState: prevState,
			Messages:  messages,
		},
	})
}

func (h *Hub) updatePlayerGauge() {
	if h.metrics == nil {
		return
	}
	h.metrics.SetPlayers(h.StateCounts())
}

// StateCounts returns the number of players in each state.
func (h *Hub) StateCounts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	counts := make(map[string]int)
	for _, s := range h.players {
		counts[s.player.StateName()]++
	}
	return counts
}

// Players returns snapshots of every connected player ordered by id.
func (h *Hub) Players() []player.Snapshot {
	h.mu.RLock()
	out := make([]player.Snapshot, 0, len(h.players))
	for _, s := range h.players {
		out = append(out, s.player.Snapshot())
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Player returns the snapshot of one player.
func (h *Hub) Player(id uint32) (player.Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.players[id]
	if !ok {
		return player.Snapshot{}, false
	}
	return s.player.Snapshot(), true
}

// Count returns the number of connected players.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.players)
}

// Kick closes a client's socket. The Hub drops the player when the
// reader reports the disconnect.
func (h *Hub) Kick(id uint32) error {
	return h.registry.Kick(id)
}
