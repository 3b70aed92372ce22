// Package stream delivers the rendered mix to network listeners over
// chunked HTTP (WAV) and WebRTC (Opus).
package stream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// listenerBuffer is ~3 seconds of 20ms frames.
const listenerBuffer = 150

// Broadcaster fans out PCM frames from the engine to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[uuid.UUID]*Listener
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	ID    uuid.UUID
	Kind  string
	Since time.Time
	C     chan []int16 // buffered channel of 20ms PCM frames

	done    chan struct{}
	once    sync.Once
	dropped int
}

// ListenerInfo describes a connected listener.
type ListenerInfo struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Since   time.Time `json:"since"`
	Dropped int       `json:"dropped"`
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[uuid.UUID]*Listener),
	}
}

// Subscribe registers a new listener of the given kind ("http", "webrtc").
func (b *Broadcaster) Subscribe(kind string) *Listener {
	l := &Listener{
		ID:    uuid.New(),
		Kind:  kind,
		Since: time.Now(),
		C:     make(chan []int16, listenerBuffer),
		done:  make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l.ID] = l
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Calling it twice
// is harmless.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l.ID)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Listeners returns the connected listeners, oldest first.
func (b *Broadcaster) Listeners() []ListenerInfo {
	b.mu.RLock()
	out := make([]ListenerInfo, 0, len(b.listeners))
	for _, l := range b.listeners {
		out = append(out, ListenerInfo{ID: l.ID.String(), Kind: l.Kind, Since: l.Since, Dropped: l.dropped})
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// Run reads frames from source and fans out to all listeners.
// Slow listeners get frames dropped rather than blocking the broadcast.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.Lock()
			for _, l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					// listener too slow, drop frame to keep broadcast moving
					l.dropped++
				}
			}
			b.mu.Unlock()
		}
	}
}
