// Package network accepts client sockets and runs the per-connection
// reader and writer loops.
package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/loginserver/internal/player"
)

var (
	// ErrQueueFull is returned by Enqueue when the writer is not keeping up.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrConnectionClosed is returned by Enqueue after Close.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrUnknownClient is returned when no connection has the given id.
	ErrUnknownClient = errors.New("unknown client")
	// ErrNotIPv4 is returned for remote addresses that are not IPv4.
	ErrNotIPv4 = errors.New("remote address is not IPv4")
)

// DefaultOutboundQueueSize is used when the configured size is not positive.
const DefaultOutboundQueueSize = 64

// Connection is one accepted client socket together with its outbound
// queue. It implements player.Outbox.
type Connection struct {
	identity player.Identity
	conn     net.Conn
	logger   zerolog.Logger

	outbound  chan player.Outbound
	done      chan struct{}
	closeOnce sync.Once

	connectedAt time.Time
}

// NewConnection wraps an accepted socket.
func NewConnection(conn net.Conn, identity player.Identity, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = DefaultOutboundQueueSize
	}
	return &Connection{
		identity:    identity,
		conn:        conn,
		outbound:    make(chan player.Outbound, queueSize),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
		logger: log.With().
			Str("component", "connection").
			Uint32("client_id", identity.ID).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

// IdentityFromAddr extracts the IPv4 address and port of a remote address.
func IdentityFromAddr(id uint32, addr net.Addr) (player.Identity, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return player.Identity{}, fmt.Errorf("unsupported address type %T", addr)
	}
	ip4 := tcp.IP.To4()
	if ip4 == nil {
		return player.Identity{}, fmt.Errorf("%w: %s", ErrNotIPv4, tcp.IP)
	}

	identity := player.Identity{ID: id, Port: tcp.Port}
	copy(identity.IP[:], ip4)
	return identity, nil
}

// Identity returns the connection identity.
func (c *Connection) Identity() player.Identity {
	return c.identity
}

// Enqueue queues a reply for the writer without blocking.
func (c *Connection) Enqueue(out player.Outbound) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.outbound <- out:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued replies.
func (c *Connection) Pending() int {
	return len(c.outbound)
}

// Close closes the socket, which also ends the reader. Safe to call
// multiple times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
		c.logger.Debug().Msg("connection closed")
	})
	return err
}

// Done is closed by Close.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ConnectedAt returns the time the connection was accepted.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ConnectionRegistry tracks live client connections by id.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[uint32]*Connection
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[uint32]*Connection),
	}
}

// Register adds a connection, closing any previous one with the same id.
func (r *ConnectionRegistry) Register(conn *Connection) {
	id := conn.Identity().ID

	r.mu.Lock()
	existing, ok := r.conns[id]
	r.conns[id] = conn
	r.mu.Unlock()

	if ok && existing != conn {
		existing.Close()
	}
	log.Debug().Uint32("client_id", id).Msg("connection registered")
}

// Unregister removes a connection without closing it.
func (r *ConnectionRegistry) Unregister(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; ok {
		delete(r.conns, id)
		log.Debug().Uint32("client_id", id).Msg("connection unregistered")
	}
}

// Get returns the connection with the given id.
func (r *ConnectionRegistry) Get(id uint32) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// GetAll returns a copy of the live connections.
func (r *ConnectionRegistry) GetAll() map[uint32]*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[uint32]*Connection, len(r.conns))
	for k, v := range r.conns {
		result[k] = v
	}
	return result
}

// Count returns the number of live connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Kick closes the socket of a client. Its reader then reports the
// disconnect through the normal event path.
func (r *ConnectionRegistry) Kick(id uint32) error {
	conn, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownClient, id)
	}
	log.Info().Uint32("client_id", id).Msg("kicking client")
	return conn.Close()
}

// CloseAll closes every registered connection.
func (r *ConnectionRegistry) CloseAll() {
	for _, conn := range r.GetAll() {
		conn.Close()
	}
	log.Info().Msg("all connections closed")
}
