package projection

import (
	"context"
	"errors"

	"github.com/ironbell/sourced/pkg/sourced/event"
	"github.com/ironbell/sourced/pkg/sourced/store"
)

// ErrEndOfStream signals that a stream has no more events.
var ErrEndOfStream = errors.New("end of stream")

// Stream yields event envelopes in order. Rebuild consumes a stream until it
// returns ErrEndOfStream.
type Stream interface {
	// Next returns the next envelope, or ErrEndOfStream when exhausted.
	Next(ctx context.Context) (event.Envelope, error)
}

// SliceStream replays a fixed slice of envelopes. Useful for tests and for
// replaying dead-lettered events.
type SliceStream struct {
	events []event.Envelope
	next   int
}

// NewSliceStream creates a stream over the given envelopes.
func NewSliceStream(events []event.Envelope) *SliceStream {
	return &SliceStream{events: events}
}

// Next implements Stream.
func (s *SliceStream) Next(_ context.Context) (event.Envelope, error) {
	if s.next >= len(s.events) {
		return event.Envelope{}, ErrEndOfStream
	}
	env := s.events[s.next]
	s.next++
	return env, nil
}

// defaultStreamBatchSize is the page size StoreStream reads from the event
// store per round trip.
const defaultStreamBatchSize = 256

// StoreStream reads the global event log from an EventStore in position
// order, paging through it batch by batch.
type StoreStream struct {
	events    store.EventStore
	position  int64
	batchSize int
	buf       []event.Envelope
	next      int
	done      bool
}

// StoreStreamOption configures a StoreStream.
type StoreStreamOption func(*StoreStream)

// WithStartPosition starts the stream after the given global position.
// The default replays from the beginning of the log.
func WithStartPosition(pos int64) StoreStreamOption {
	return func(s *StoreStream) {
		s.position = pos
	}
}

// WithBatchSize sets the page size for event store reads.
func WithBatchSize(n int) StoreStreamOption {
	return func(s *StoreStream) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewStoreStream creates a stream over the global event log of es.
func NewStoreStream(es store.EventStore, opts ...StoreStreamOption) *StoreStream {
	s := &StoreStream{
		events:    es,
		batchSize: defaultStreamBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next implements Stream.
func (s *StoreStream) Next(ctx context.Context) (event.Envelope, error) {
	if s.next >= len(s.buf) {
		if s.done {
			return event.Envelope{}, ErrEndOfStream
		}
		batch, err := s.events.ReadAll(ctx, s.position, s.batchSize)
		if err != nil {
			return event.Envelope{}, err
		}
		if len(batch) == 0 {
			s.done = true
			return event.Envelope{}, ErrEndOfStream
		}
		if len(batch) < s.batchSize {
			s.done = true
		}
		s.buf = batch
		s.next = 0
	}
	env := s.buf[s.next]
	s.next++
	if env.Meta.Position > s.position {
		s.position = env.Meta.Position
	}
	return env, nil
}
