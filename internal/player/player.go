// Package player implements the per-connection state machine. A Player
// holds the connection identity and session attributes, dispatches each
// decoded request to its single active State, and tags outbound replies
// with the last sequence number received from the client.
package player

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/loginserver/internal/protocol"
)

// ErrNoState is returned by HandleRequest before the first SetState.
var ErrNoState = errors.New("player has no active state")

// Identity identifies a connection. It never changes once established.
type Identity struct {
	ID   uint32  `json:"id"`
	IP   [4]byte `json:"ip"`
	Port int     `json:"port"`
}

// IPString formats the address as a dotted quad.
func (i Identity) IPString() string {
	return fmt.Sprintf("%d.%d.%d.%d", i.IP[0], i.IP[1], i.IP[2], i.IP[3])
}

func (i Identity) String() string {
	return fmt.Sprintf("%d, %s:%d", i.ID, i.IPString(), i.Port)
}

// Outbound is one reply queued for the connection writer.
type Outbound struct {
	Data []byte
	// Ack is the last sequence number received from the client when the
	// reply was queued.
	Ack uint32
}

// Outbox is the per-connection outbound queue.
type Outbox interface {
	Enqueue(out Outbound) error
}

// State is one node of the player state machine.
type State interface {
	Name() string
	OnEnter()
	OnExit()
	HandleRequest(req protocol.Object)
}

// StateConstructor builds a state bound to a player. Arguments a state
// needs are captured by the constructor closure.
type StateConstructor func(p *Player) State

// TransitionHook observes state changes; prev is "" for the first state.
type TransitionHook func(p *Player, prev, next string)

// Player is the state machine of one connection. SetState and
// HandleRequest must only be called from the goroutine that owns the
// player; accessors are safe from any goroutine.
type Player struct {
	identity Identity
	outbox   Outbox
	logger   zerolog.Logger
	onChange TransitionHook

	mu            sync.RWMutex
	state         State
	lastSeq       uint32
	loginName     string
	displayName   string
	tag           string
	authenticated bool
	connectedAt   time.Time
	requests      uint64
}

// New creates a player with no active state.
func New(identity Identity, outbox Outbox) *Player {
	return &Player{
		identity:    identity,
		outbox:      outbox,
		connectedAt: time.Now(),
		logger: log.With().
			Str("component", "player").
			Uint32("client_id", identity.ID).
			Logger(),
	}
}

// OnTransition registers a hook called after every completed transition.
func (p *Player) OnTransition(hook TransitionHook) {
	p.onChange = hook
}

// Identity returns the connection identity.
func (p *Player) Identity() Identity {
	return p.identity
}

// ID returns the connection id.
func (p *Player) ID() uint32 {
	return p.identity.ID
}

// Logger returns the player's component logger.
func (p *Player) Logger() *zerolog.Logger {
	return &p.logger
}

// SetState exits the current state (if any), constructs the next one
// bound to this player and enters it.
func (p *Player) SetState(next StateConstructor) {
	p.mu.RLock()
	prev := p.state
	p.mu.RUnlock()

	prevName := ""
	if prev != nil {
		prevName = prev.Name()
		prev.OnExit()
	}

	state := next(p)

	p.mu.Lock()
	p.state = state
	p.mu.Unlock()

	state.OnEnter()

	p.logger.Debug().
		Str("from", prevName).
		Str("to", state.Name()).
		Msg("state transition")

	if p.onChange != nil {
		p.onChange(p, prevName, state.Name())
	}
}

// HandleRequest forwards a decoded request to the active state.
func (p *Player) HandleRequest(req protocol.Object) error {
	p.mu.Lock()
	state := p.state
	p.requests++
	p.mu.Unlock()

	if state == nil {
		return ErrNoState
	}
	state.HandleRequest(req)
	return nil
}

// Exit runs the active state's exit hook when the connection goes away.
func (p *Player) Exit() {
	p.mu.Lock()
	state := p.state
	p.state = nil
	p.mu.Unlock()

	if state != nil {
		state.OnExit()
	}
}

// Send queues data for the connection writer, tagged with the last
// received sequence number.
func (p *Player) Send(data []byte) error {
	return p.outbox.Enqueue(Outbound{Data: data, Ack: p.LastReceivedSequence()})
}

// SetLastReceivedSequence records the sequence of the latest client message.
func (p *Player) SetLastReceivedSequence(seq uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeq = seq
}

// LastReceivedSequence returns the sequence of the latest client message.
func (p *Player) LastReceivedSequence() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeq
}

// StateName returns the name of the active state, or "" if none.
func (p *Player) StateName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state == nil {
		return ""
	}
	return p.state.Name()
}

// SetLogin records the names a client announced during login.
func (p *Player) SetLogin(loginName, displayName, tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loginName = loginName
	p.displayName = displayName
	p.tag = tag
}

// SetAuthenticated marks the player as authenticated.
func (p *Player) SetAuthenticated(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authenticated = ok
}

// Snapshot is a read-only view of a player.
type Snapshot struct {
	ID            uint32    `json:"id"`
	IP            string    `json:"ip"`
	Port          int       `json:"port"`
	State         string    `json:"state"`
	LastSequence  uint32    `json:"last_sequence"`
	LoginName     string    `json:"login_name,omitempty"`
	DisplayName   string    `json:"display_name,omitempty"`
	Tag           string    `json:"tag,omitempty"`
	Authenticated bool      `json:"authenticated"`
	Requests      uint64    `json:"requests"`
	ConnectedAt   time.Time `json:"connected_at"`
}

// Snapshot returns a copy of the player's current attributes.
func (p *Player) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := Snapshot{
		ID:            p.identity.ID,
		IP:            p.identity.IPString(),
		Port:          p.identity.Port,
		LastSequence:  p.lastSeq,
		LoginName:     p.loginName,
		DisplayName:   p.displayName,
		Tag:           p.tag,
		Authenticated: p.authenticated,
		Requests:      p.requests,
		ConnectedAt:   p.connectedAt,
	}
	if p.state != nil {
		snap.State = p.state.Name()
	}
	return snap
}

func (p *Player) String() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fmt.Sprintf("%s, %q", p.identity, p.displayName)
}
