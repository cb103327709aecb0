package diag

import (
	"sync"

	v1 "github.com/updrift-io/updrift/api/v1"
)

// Broadcaster fans transfer progress out to websocket subscribers. Slow
// subscribers drop events rather than stalling the writer.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan v1.ProgressEvent]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan v1.ProgressEvent]struct{})}
}

// Publish delivers ev to every subscriber without blocking.
func (b *Broadcaster) Publish(ev v1.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Broadcaster) subscribe() (chan v1.ProgressEvent, func()) {
	ch := make(chan v1.ProgressEvent, 16)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}
