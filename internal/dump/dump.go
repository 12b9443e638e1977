// Package dump records raw client packets for offline replay and debugging.
// Producers never block: when the queue is full the packet is dropped and
// counted.
package dump

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/loginserver/internal/util"
)

// Record is one dumped raw packet.
type Record struct {
	Tag      string
	ClientID uint32
	Data     []byte
	At       time.Time
}

// Queue buffers dump records between client readers and the Writer.
type Queue struct {
	ch      chan Record
	dropped atomic.Uint64
	queued  atomic.Uint64
}

// NewQueue creates a dump queue holding up to size records.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1024
	}
	return &Queue{ch: make(chan Record, size)}
}

// ForClient returns a sink that tags records with a client id.
func (q *Queue) ForClient(id uint32) *ClientSink {
	return &ClientSink{queue: q, id: id}
}

func (q *Queue) offer(rec Record) {
	select {
	case q.ch <- rec:
		q.queued.Add(1)
	default:
		q.dropped.Add(1)
	}
}

// Dropped returns the number of records discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Queued returns the number of records accepted so far.
func (q *Queue) Queued() uint64 {
	return q.queued.Load()
}

// Records returns the receive side of the queue.
func (q *Queue) Records() <-chan Record {
	return q.ch
}

// ClientSink implements protocol.DumpSink for a single connection.
type ClientSink struct {
	queue *Queue
	id    uint32
}

// Dump enqueues a copy of data without blocking.
func (s *ClientSink) Dump(tag string, data []byte) {
	s.queue.offer(Record{
		Tag:      tag,
		ClientID: s.id,
		Data:     append([]byte(nil), data...),
		At:       time.Now(),
	})
}

// Writer drains a Queue into dated JSON-lines files.
type Writer struct {
	queue     *Queue
	directory string
	keep      int
}

// NewWriter creates a Writer storing files in directory, keeping the newest keep files.
func NewWriter(queue *Queue, directory string, keep int) *Writer {
	return &Writer{queue: queue, directory: directory, keep: keep}
}

// Run writes records until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.directory, 0755); err != nil {
		return fmt.Errorf("failed to create dump directory %s: %w", w.directory, err)
	}

	var (
		file    *os.File
		day     string
		encoder zerolog.Logger
	)
	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	log.Info().Str("directory", w.directory).Msg("packet dump writer started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Uint64("dropped", w.queue.Dropped()).Msg("packet dump writer stopped")
			return nil
		case rec := <-w.queue.Records():
			if today := rec.At.Format("2006-01-02"); today != day || file == nil {
				if file != nil {
					file.Close()
				}
				f, err := w.open(today)
				if err != nil {
					return err
				}
				file, day, encoder = f, today, NewEncoder(f)
				util.PruneFiles(w.directory, ".jsonl", w.keep)
			}
			Encode(encoder, rec)
		}
	}
}

func (w *Writer) open(day string) (*os.File, error) {
	path := filepath.Join(w.directory, fmt.Sprintf("packets_%s.jsonl", day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump file %s: %w", path, err)
	}
	return f, nil
}

// NewEncoder returns a zerolog logger writing bare JSON lines to out.
func NewEncoder(out io.Writer) zerolog.Logger {
	return zerolog.New(out).Level(zerolog.DebugLevel)
}

// Encode writes one record as a JSON line.
func Encode(enc zerolog.Logger, rec Record) {
	enc.Log().
		Time("time", rec.At).
		Str("tag", rec.Tag).
		Uint32("client_id", rec.ClientID).
		Int("size", len(rec.Data)).
		Str("data", hex.EncodeToString(rec.Data)).
		Send()
}
