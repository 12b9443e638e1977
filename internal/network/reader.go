package network

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/loginserver/internal/events"
	"github.com/energizer-project/loginserver/internal/metrics"
	"github.com/energizer-project/loginserver/internal/player"
	"github.com/energizer-project/loginserver/internal/protocol"
)

// ReaderConfig carries the optional collaborators of a ClientReader.
type ReaderConfig struct {
	ObjectsPerPacket int
	Dump             protocol.DumpSink
	Metrics          *metrics.Collector
}

// ClientReader turns the byte stream of one socket into client events.
// The socket must only be read by this reader.
type ClientReader struct {
	identity player.Identity
	frames   *protocol.FrameBuffer
	decoder  *protocol.Decoder
	sink     events.Publisher
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// NewClientReader creates a reader for r and publishes the Connected
// event for identity before returning.
func NewClientReader(r io.Reader, identity player.Identity, objects protocol.ObjectDecoder, sink events.Publisher, cfg ReaderConfig) *ClientReader {
	frames := protocol.NewFrameBuffer(r, cfg.Dump)
	cr := &ClientReader{
		identity: identity,
		frames:   frames,
		decoder:  protocol.NewDecoder(frames, objects, cfg.ObjectsPerPacket),
		sink:     sink,
		metrics:  cfg.Metrics,
		logger: log.With().
			Str("component", "client_reader").
			Uint32("client_id", identity.ID).
			Str("remote", identity.IPString()).
			Logger(),
	}

	sink.Publish(events.NewConnected(identity.ID, identity.IP, identity.Port))
	return cr
}

// Run decodes messages until the first error, publishes exactly one
// Disconnected event and returns that error. Closing the socket is the
// only way to stop it.
func (cr *ClientReader) Run() error {
	var seen uint64
	for {
		msg, err := cr.decoder.Decode()

		packets := cr.frames.Packets()
		cr.metrics.RawPacketsReceived(packets - seen)
		seen = packets

		if err != nil {
			kind := protocol.ErrorKind(err)
			event := cr.logger.Info()
			if kind != "connection_closed" {
				event = cr.logger.Warn()
			}
			event.Err(err).Str("kind", kind).Msg("client read loop ended")

			cr.metrics.Disconnect(kind)
			cr.sink.Publish(events.NewDisconnected(cr.identity.ID))
			return err
		}

		cr.metrics.MessageDecoded(len(msg.Objects))
		cr.sink.Publish(events.NewMessage(cr.identity.ID, msg))
	}
}
