package transport

import (
	"context"
	"sync"
)

// Broadcast is a bounded ring of inbound frames. Every Reader keeps its own
// cursor so several consumers can follow one connection without sharing
// state; a reader that falls more than the ring capacity behind skips ahead
// to the oldest retained frame.
type Broadcast struct {
	mu     sync.Mutex
	ring   []string
	head   uint64
	err    error
	notify chan struct{}
}

func NewBroadcast(capacity int) *Broadcast {
	if capacity < 1 {
		capacity = 1
	}
	return &Broadcast{ring: make([]string, capacity), notify: make(chan struct{})}
}

func (b *Broadcast) Publish(frame string) {
	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return
	}
	b.ring[b.head%uint64(len(b.ring))] = frame
	b.head++
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
}

// Close ends the stream; readers drain what they have not read yet and then
// get err.
func (b *Broadcast) Close(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
		close(b.notify)
	}
	b.mu.Unlock()
}

// Subscribe returns a reader positioned after the most recent frame.
func (b *Broadcast) Subscribe() *Reader {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Reader{b: b, cursor: b.head}
}

// Replay returns a reader positioned at the oldest retained frame.
func (b *Broadcast) Replay() *Reader {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := uint64(0)
	if size := uint64(len(b.ring)); b.head > size {
		start = b.head - size
	}
	return &Reader{b: b, cursor: start}
}

// Reader is a single consumer's cursor. It is not safe for concurrent use;
// give each consumer its own.
type Reader struct {
	b       *Broadcast
	cursor  uint64
	dropped uint64
}

// Next blocks for the next frame in receipt order.
func (r *Reader) Next(ctx context.Context) (string, error) {
	b := r.b
	for {
		b.mu.Lock()
		if r.cursor < b.head {
			size := uint64(len(b.ring))
			if b.head-r.cursor > size {
				r.dropped += b.head - size - r.cursor
				r.cursor = b.head - size
			}
			frame := b.ring[r.cursor%size]
			r.cursor++
			b.mu.Unlock()
			return frame, nil
		}
		err, ch := b.err, b.notify
		b.mu.Unlock()
		if err != nil {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ch:
		}
	}
}

// Dropped counts frames this reader skipped because it fell behind.
func (r *Reader) Dropped() uint64 {
	return r.dropped
}
