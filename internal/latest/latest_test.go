package latest

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNextSkipsIntermediate(t *testing.T) {
	v := New(0)
	v.Set(1)
	v.Set(2)
	v.Set(3)
	got, seq, err := v.Next(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 || seq != 3 {
		t.Errorf("got value %d seq %d, want 3/3", got, seq)
	}
}

func TestNextWaits(t *testing.T) {
	v := New("a")
	done := make(chan string)
	go func() {
		s, _, _ := v.Next(context.Background(), 0)
		done <- s
	}()
	select {
	case <-done:
		t.Fatal("Next returned before Set")
	case <-time.After(20 * time.Millisecond):
	}
	v.Set("b")
	select {
	case s := <-done:
		if s != "b" {
			t.Errorf("got %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up")
	}
}

func TestCloseAfterPending(t *testing.T) {
	v := New(0)
	v.Set(5)
	boom := errors.New("boom")
	v.Close(boom)
	v.Set(6)

	got, seq, err := v.Next(context.Background(), 0)
	if err != nil || got != 5 {
		t.Fatalf("pending value not delivered: %d %v", got, err)
	}
	_, _, err = v.Next(context.Background(), seq)
	if !errors.Is(err, boom) {
		t.Errorf("expected terminal error, got %v", err)
	}
}

func TestNextContextCancel(t *testing.T) {
	v := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := v.Next(ctx, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v", err)
	}
}

func TestWatch(t *testing.T) {
	v := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := v.Watch(ctx)
	if got := <-ch; got != 1 {
		t.Fatalf("initial value %d", got)
	}
	v.Set(2)
	v.Set(3)
	deadline := time.After(time.Second)
	for {
		select {
		case got := <-ch:
			if got == 3 {
				v.Close(nil)
				for range ch {
				}
				return
			}
		case <-deadline:
			t.Fatal("never observed the latest value")
		}
	}
}
