package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/energizer-project/loginserver/internal/config"
	"github.com/energizer-project/loginserver/internal/events"
	"github.com/energizer-project/loginserver/internal/metrics"
	"github.com/energizer-project/loginserver/internal/protocol"
)

// DumpFactory returns the diagnostic sink for a client, or nil.
type DumpFactory func(id uint32) protocol.DumpSink

// ListenerOption configures optional TCPListener collaborators.
type ListenerOption func(*TCPListener)

// WithDump routes raw packets of every client to a diagnostic sink.
func WithDump(factory DumpFactory) ListenerOption {
	return func(l *TCPListener) {
		l.dump = factory
	}
}

// WithMetrics records connection metrics on m.
func WithMetrics(m *metrics.Collector) ListenerOption {
	return func(l *TCPListener) {
		l.metrics = m
	}
}

// TCPListener accepts client connections and runs one reader and one
// writer goroutine per connection.
type TCPListener struct {
	cfg      config.ListenerConfig
	perPkt   int
	objects  protocol.ObjectDecoder
	sink     events.Publisher
	registry *ConnectionRegistry
	dump     DumpFactory
	metrics  *metrics.Collector

	mu       sync.Mutex
	listener net.Listener
	nextID   atomic.Uint32
	handlers sync.WaitGroup
}

// NewTCPListener creates a listener that decodes client objects with
// objects and publishes client events to sink.
func NewTCPListener(cfg *config.Config, objects protocol.ObjectDecoder, sink events.Publisher, registry *ConnectionRegistry, opts ...ListenerOption) *TCPListener {
	l := &TCPListener{
		cfg:      cfg.Listener,
		perPkt:   cfg.Protocol.ObjectsPerPacket,
		objects:  objects,
		sink:     sink,
		registry: registry,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Listen binds the listening socket.
func (l *TCPListener) Listen(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port)

	// SO_REUSEADDR allows immediate rebinding after restart
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp4", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener on %s: %w", addr, err)
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("client listener started")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *TCPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Start binds the socket and serves until ctx is cancelled.
func (l *TCPListener) Start(ctx context.Context) error {
	if err := l.Listen(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled, then closes every
// client connection and waits for their goroutines.
func (l *TCPListener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return errors.New("listener not bound")
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	defer l.handlers.Wait()

	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("client listener stopping")
				l.registry.CloseAll()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				l.registry.CloseAll()
				return nil
			}
			log.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		l.handlers.Add(1)
		go func() {
			defer l.handlers.Done()
			l.handleConnection(ctx, raw)
		}()
	}
}

// handleConnection registers the connection, starts its writer, then
// runs its reader until the socket fails or is closed.
func (l *TCPListener) handleConnection(ctx context.Context, raw net.Conn) {
	logger := log.With().
		Str("component", "tcp_handler").
		Str("remote", raw.RemoteAddr().String()).
		Logger()

	if limit := l.cfg.MaxConnections; limit > 0 && l.registry.Count() >= limit {
		logger.Warn().Int("max_connections", limit).Msg("connection limit reached, refusing client")
		l.metrics.ConnectionDenied("limit")
		raw.Close()
		return
	}

	identity, err := IdentityFromAddr(l.nextID.Add(1), raw.RemoteAddr())
	if err != nil {
		logger.Warn().Err(err).Msg("refusing client")
		l.metrics.ConnectionDenied("address")
		raw.Close()
		return
	}

	var dump protocol.DumpSink
	if l.dump != nil {
		dump = l.dump(identity.ID)
	}

	conn := NewConnection(raw, identity, l.cfg.OutboundQueueSize)
	l.registry.Register(conn)
	l.metrics.ConnectionOpened()
	defer func() {
		l.registry.Unregister(identity.ID)
		l.metrics.ConnectionClosed()
	}()

	logger.Debug().Uint32("client_id", identity.ID).Msg("client connected")

	writer := NewClientWriter(raw, conn, dump, l.metrics)
	reader := NewClientReader(raw, identity, l.objects, l.sink, ReaderConfig{
		ObjectsPerPacket: l.perPkt,
		Dump:             dump,
		Metrics:          l.metrics,
	})

	var g errgroup.Group
	g.Go(func() error {
		return writer.Run(ctx)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-conn.Done():
		}
		return nil
	})
	g.Go(func() error {
		defer conn.Close()
		_ = reader.Run()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Debug().Err(err).Uint32("client_id", identity.ID).Msg("client writer stopped")
	}
}

// Stop closes the listening socket. Serve also stops on ctx cancellation.
func (l *TCPListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
