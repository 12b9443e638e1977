package network

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/loginserver/internal/metrics"
	"github.com/energizer-project/loginserver/internal/player"
	"github.com/energizer-project/loginserver/internal/protocol"
)

// WriteTimeout bounds a single logical packet write.
const WriteTimeout = 10 * time.Second

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// ClientWriter drains a connection's outbound queue onto its socket.
// Every reply is framed as data followed by a seq/ack footer, where seq
// counts the replies sent on this connection starting at 1.
type ClientWriter struct {
	w       io.Writer
	conn    *Connection
	seq     uint32
	builder *protocol.PacketBuilder
	dump    protocol.DumpSink
	metrics *metrics.Collector
	logger  zerolog.Logger
}

// NewClientWriter creates a writer for conn's queue. w is normally the
// connection's own socket.
func NewClientWriter(w io.Writer, conn *Connection, dump protocol.DumpSink, m *metrics.Collector) *ClientWriter {
	return &ClientWriter{
		w:       w,
		conn:    conn,
		builder: protocol.NewPacketBuilder(),
		dump:    dump,
		metrics: m,
		logger: log.With().
			Str("component", "client_writer").
			Uint32("client_id", conn.Identity().ID).
			Logger(),
	}
}

// Run writes queued replies until the connection closes, ctx is
// cancelled or a write fails.
func (cw *ClientWriter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cw.conn.Done():
			return nil
		case out := <-cw.conn.outbound:
			if err := cw.write(out); err != nil {
				cw.logger.Debug().Err(err).Msg("write failed, closing connection")
				cw.conn.Close()
				return err
			}
		}
	}
}

// Sequence returns the sequence number of the last reply written.
func (cw *ClientWriter) Sequence() uint32 {
	return cw.seq
}

func (cw *ClientWriter) write(out player.Outbound) error {
	cw.seq++

	cw.builder.Reset()
	cw.builder.WriteBytes(out.Data)
	cw.builder.WriteFooter(cw.seq, out.Ack)
	body := cw.builder.Build()

	if dw, ok := cw.w.(deadlineWriter); ok {
		_ = dw.SetWriteDeadline(time.Now().Add(WriteTimeout))
	}
	if err := protocol.WritePackets(cw.w, body); err != nil {
		return fmt.Errorf("writing packet %d: %w", cw.seq, err)
	}

	if cw.dump != nil {
		cw.dump.Dump(protocol.DumpTagServer, body)
	}
	cw.metrics.PacketSent(protocol.FramedSize(len(body)))
	return nil
}
