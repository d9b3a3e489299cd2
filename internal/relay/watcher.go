package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"
)

// watcher streams one order's frames to a customer or restaurant
// connection.
type watcher struct {
	c       *websocket.Conn
	cid     string
	loc     chan []byte
	done    chan struct{}
	once    sync.Once
	closed  uint32
	pushed  uint64
	skipped uint64
	m       *Metrics
	log     log.Logger
}

func newWatcher(c *websocket.Conn, cid string, m *Metrics, l log.Logger) *watcher {
	return &watcher{c: c, cid: cid, loc: make(chan []byte, 8), done: make(chan struct{}), m: m, log: l}
}

func (w *watcher) Push(orderID string, d []byte) bool {
	if atomic.LoadUint32(&w.closed) == 1 {
		return true
	}
	select {
	case w.loc <- d:
		atomic.AddUint64(&w.pushed, 1)
		w.m.Frames.Inc()
	default:
		atomic.AddUint64(&w.skipped, 1)
		w.m.Dropped.Inc()
	}
	return false
}

// Close asks the write loop to flush what is queued and end the connection.
func (w *watcher) Close() {
	w.once.Do(func() {
		atomic.StoreUint32(&w.closed, 1)
		close(w.done)
	})
}

func (w *watcher) MarshalObject(e *log.Entry) {
	e.Str("conn_id", w.cid).Uint64("pushed", atomic.LoadUint64(&w.pushed)).Uint64("skipped", atomic.LoadUint64(&w.skipped))
}

// run blocks until the peer goes away, a write fails, or the watcher is
// closed. keepalive of zero disables keep-alive frames.
func (w *watcher) run(ctx context.Context, keepalive time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer w.Close()

	go w.readloop(ctx, cancel)

	var tick <-chan time.Time
	if keepalive > 0 {
		t := time.NewTicker(keepalive)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case d := <-w.loc:
			if !w.write(ctx, d) {
				return
			}
		case <-tick:
			if !w.write(ctx, []byte{}) {
				return
			}
		case <-w.done:
			for {
				select {
				case d := <-w.loc:
					if !w.write(ctx, d) {
						return
					}
				default:
					w.c.Close(websocket.StatusNormalClosure, "order finished")
					return
				}
			}
		case <-ctx.Done():
			w.c.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

// readloop only drains control frames; watchers have nothing to say after
// the handshake.
func (w *watcher) readloop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		_, _, err := w.c.Read(ctx)
		if err != nil {
			w.log.Debug().Err(err).EmbedObject(w).Msg("watcher read ended")
			return
		}
	}
}

func (w *watcher) write(ctx context.Context, d []byte) bool {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := w.c.Write(wctx, websocket.MessageText, d)
	if err != nil {
		w.log.Debug().Err(err).EmbedObject(w).Msg("watcher write failed")
		return false
	}
	return true
}
