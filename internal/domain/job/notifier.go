// Package job fans job store changes out to subscribers.
package job

import (
	"sync"
	"sync/atomic"

	"github.com/target/docflow/internal/domain/model"
)

const defaultBuffer = 64

// Notifier manages subscriptions for job change notifications.
type Notifier interface {
	Subscribe() (func(), <-chan model.JobEvent)
	Publish(ev model.JobEvent)
	StopAll()
}

// NotifierOptions configure the behaviour of the default notifier implementation.
type NotifierOptions struct {
	// Buffer is the per-subscriber channel capacity.
	Buffer int
	// OnDrop is called when a slow subscriber misses an event. Optional.
	OnDrop func(ev model.JobEvent)
}

// DefaultNotifier is the default implementation of Notifier. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type DefaultNotifier struct {
	buffer int
	onDrop func(model.JobEvent)

	mu      sync.Mutex
	subs    map[chan model.JobEvent]struct{}
	stopped bool
	dropped atomic.Uint64
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) *DefaultNotifier {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &DefaultNotifier{
		buffer: buffer,
		onDrop: opts.OnDrop,
		subs:   make(map[chan model.JobEvent]struct{}),
	}
}

func (n *DefaultNotifier) Subscribe() (func(), <-chan model.JobEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan model.JobEvent, n.buffer)
	if n.stopped {
		close(ch)
		return func() {}, ch
	}
	n.subs[ch] = struct{}{}

	unsub := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subs[ch]; !ok {
			return
		}
		delete(n.subs, ch)
		drainAndClose(ch)
	}
	return unsub, ch
}

func (n *DefaultNotifier) Publish(ev model.JobEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs {
		select {
		case ch <- ev:
		default:
			n.dropped.Add(1)
			if n.onDrop != nil {
				n.onDrop(ev)
			}
		}
	}
}

// Dropped returns the number of events missed by slow subscribers.
func (n *DefaultNotifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Subscribers returns the current subscriber count.
func (n *DefaultNotifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stopped = true
	for ch := range n.subs {
		drainAndClose(ch)
		delete(n.subs, ch)
	}
}

// drainAndClose removes any buffered events before closing the channel so
// receivers observe a closed channel immediately.
func drainAndClose(ch chan model.JobEvent) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

var _ Notifier = (*DefaultNotifier)(nil)
