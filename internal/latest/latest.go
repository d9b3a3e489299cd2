// Package latest holds a single value that one owner overwrites and any
// number of readers observe. Readers never see a queue, only the most recent
// value, so a slow reader skips intermediate values.
package latest

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("latest: closed")

type Value[T any] struct {
	mu      sync.Mutex
	v       T
	seq     uint64
	err     error
	changed chan struct{}
}

func New[T any](initial T) *Value[T] {
	return &Value[T]{v: initial, changed: make(chan struct{})}
}

// Set replaces the value and wakes every waiting reader. Set after Close is
// ignored.
func (l *Value[T]) Set(v T) {
	l.mu.Lock()
	if l.err != nil {
		l.mu.Unlock()
		return
	}
	l.v = v
	l.seq++
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
}

// Close marks the value terminal. Readers get err once they have consumed
// the last value. A nil err is replaced with ErrClosed.
func (l *Value[T]) Close(err error) {
	if err == nil {
		err = ErrClosed
	}
	l.mu.Lock()
	if l.err == nil {
		l.err = err
		close(l.changed)
	}
	l.mu.Unlock()
}

func (l *Value[T]) Load() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.v
}

// Snapshot returns the value together with its sequence number, 0 meaning
// the initial value.
func (l *Value[T]) Snapshot() (T, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.v, l.seq
}

// Err returns the terminal error, nil while open.
func (l *Value[T]) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Next waits for a value newer than seq.
func (l *Value[T]) Next(ctx context.Context, seq uint64) (T, uint64, error) {
	for {
		l.mu.Lock()
		v, cur, err, ch := l.v, l.seq, l.err, l.changed
		l.mu.Unlock()
		if cur > seq {
			return v, cur, nil
		}
		if err != nil {
			var zero T
			return zero, cur, err
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, cur, ctx.Err()
		case <-ch:
		}
	}
}

// Watch delivers the current value and then every newer one on a channel of
// capacity one; an unread value is replaced by a newer one. The channel is
// closed when ctx ends or the value is closed.
func (l *Value[T]) Watch(ctx context.Context) <-chan T {
	out := make(chan T, 1)
	v, seq := l.Snapshot()
	out <- v
	go func() {
		defer close(out)
		for {
			nv, nseq, err := l.Next(ctx, seq)
			if err != nil {
				return
			}
			seq = nseq
			select {
			case out <- nv:
			default:
				select {
				case <-out:
				default:
				}
				out <- nv
			}
		}
	}()
	return out
}
