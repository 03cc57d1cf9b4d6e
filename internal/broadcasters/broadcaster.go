// Package broadcasters provides the generic fan-out primitive used for all of the SDK's event
// families: flag changes, data source status, data store status, and big segment store status.
package broadcasters

import (
	"sync"
)

// Broadcaster fans values out to any number of listener channels. One Broadcaster is created
// per event family.
//
// Each listener gets its own queue and forwarding goroutine, so a listener that is slow to
// read cannot block Broadcast or delay its siblings; values for one listener are delivered in
// the order they were broadcast.
type Broadcaster[V any] struct {
	subscribers []subscriber[V]
	closed      bool
	lock        sync.Mutex
}

type subscriber[V any] struct {
	in  chan V
	out chan V
}

// NewBroadcaster creates a Broadcaster. It should be closed with Close when no longer needed.
func NewBroadcaster[V any]() *Broadcaster[V] {
	return &Broadcaster[V]{}
}

// AddListener registers a new listener channel. The caller should consume the channel promptly
// but will not lose values if it does not; they are buffered in order.
func (b *Broadcaster[V]) AddListener() <-chan V {
	s := subscriber[V]{in: make(chan V), out: make(chan V)}
	go s.forward()

	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		close(s.in)
		return s.out
	}
	b.subscribers = append(b.subscribers, s)
	return s.out
}

// RemoveListener unregisters a channel previously returned by AddListener and closes it once
// any pending values have been delivered.
func (b *Broadcaster[V]) RemoveListener(ch <-chan V) {
	b.lock.Lock()
	defer b.lock.Unlock()
	for i, s := range b.subscribers {
		if s.out == ch {
			close(s.in)
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// HasListeners returns true if any listeners are currently registered.
func (b *Broadcaster[V]) HasListeners() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.subscribers) > 0
}

// Broadcast queues a value for every current listener. It never blocks.
func (b *Broadcaster[V]) Broadcast(value V) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subscribers {
		s.in <- value
	}
}

// Close unregisters and closes all listener channels. Further Broadcast calls are no-ops.
// Close is idempotent.
func (b *Broadcaster[V]) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subscribers {
		close(s.in)
	}
	b.subscribers = nil
}

// forward shuttles values from the unbuffered in channel to the listener's out channel through
// an unbounded FIFO, so that a send into in returns immediately regardless of the reader.
func (s subscriber[V]) forward() {
	var pending []V
	in := s.in
	for {
		var sendCh chan V
		var next V
		if len(pending) > 0 {
			sendCh = s.out
			next = pending[0]
		} else if in == nil {
			close(s.out)
			return
		}
		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			pending = append(pending, v)
		case sendCh <- next:
			pending = pending[1:]
		}
	}
}
