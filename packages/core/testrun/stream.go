package testrun

import (
	"context"
	"sync"
)

// Stream is an append-only event log with replay. One producer publishes;
// any number of consumers read, each starting from the first event no
// matter when it subscribes. It is safe for concurrent use.
type Stream struct {
	mu     sync.Mutex
	events []Event
	closed bool
	// wake is closed and replaced on every append and on Close.
	wake chan struct{}
	done chan struct{}
}

func NewStream() *Stream {
	return &Stream{
		wake: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Publish appends ev. It returns false once the stream is closed.
func (s *Stream) Publish(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events = append(s.events, ev)
	close(s.wake)
	s.wake = make(chan struct{})
	return true
}

// Close ends the stream. Calling it more than once is a no-op.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.wake)
	close(s.done)
}

// Done is closed when the stream is closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Events returns a copy of everything published so far.
func (s *Stream) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// since returns the events after cursor, whether the stream is closed, and
// the channel that signals the next change.
func (s *Stream) since(cursor int) ([]Event, bool, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// The backing array is never written below len(s.events), so the
	// sub-slice stays valid after unlocking.
	return s.events[cursor:len(s.events):len(s.events)], s.closed, s.wake
}

// Subscribe delivers the backlog and then live events, in emission order,
// on the returned channel. The channel is closed after the last event once
// the stream is closed, or when ctx is done.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		_ = s.Each(ctx, func(ev Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		})
	}()
	return ch
}

// Each calls fn for every event, backlog first, from the calling
// goroutine. It returns nil after the last event of a closed stream, or
// ctx.Err() if ctx ends first.
func (s *Stream) Each(ctx context.Context, fn func(Event)) error {
	cursor := 0
	for {
		pending, closed, wake := s.since(cursor)
		for _, ev := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(ev)
			cursor++
		}
		if len(pending) > 0 {
			continue
		}
		if closed {
			return nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Wait blocks until the stream is closed or ctx is done.
func (s *Stream) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
