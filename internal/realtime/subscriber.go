package realtime

import "sync"

// Subscriber represents one connected websocket session.
//
// Send is intentionally NOT closed by the server so concurrent
// publishers can never panic on a closed channel. done signals the
// connection goroutines to stop; Close is idempotent.
type Subscriber struct {
	ID          string
	PrincipalID string
	Send        chan Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewSubscriber constructs a Subscriber with a bounded send queue.
func NewSubscriber(id, principalID string, sendQueueSize int) *Subscriber {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Subscriber{
		ID:          id,
		PrincipalID: principalID,
		Send:        make(chan Envelope, sendQueueSize),
		done:        make(chan struct{}),
	}
}

// Done returns a channel that is closed when the subscriber is shutting down.
func (s *Subscriber) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Close signals the subscriber goroutines to stop (idempotent).
// It does NOT close Send to keep publish safe under concurrency.
func (s *Subscriber) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
