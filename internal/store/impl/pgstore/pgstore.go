package pgstore

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
)

type copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var locationColumns = []string{"order_id", "rider_id", "latitude", "longitude", "recorded_at"}

// Store batches rider fixes and writes them with COPY, either when a buffer
// fills up or when its oldest row gets older than MaxAgeFlush.
type Store struct {
	config *StoreConfig
	cond   *sync.Cond
	wlock  *sync.Mutex
	queue  []buffer
	closed bool
	wbuf   buffer
	dst    copier
	log    log.Logger
	table  string
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

type StoreConfig struct {
	BufSize     int
	TickerDur   time.Duration
	MaxAgeFlush time.Duration
}

type buffer struct {
	seq uint64
	t1  time.Time
	t2  time.Time
	buf []record
}

func new_buffer(seq uint64, len int) buffer {
	return buffer{seq: seq, buf: make([]record, 0, len)}
}

type record struct {
	order_id string
	rider_id string
	lat      float64
	lng      float64
	t        time.Time
}

func NewStore(db *pgxpool.Pool, table string, config *StoreConfig) *Store {
	return newStore(db, table, config)
}

func newStore(dst copier, table string, config *StoreConfig) *Store {
	o := &Store{}
	o.config = config
	if o.config.BufSize <= 0 {
		o.config.BufSize = 100
	}
	if o.config.TickerDur <= 0 {
		o.config.TickerDur = time.Second
	}
	if o.config.MaxAgeFlush <= 0 {
		o.config.MaxAgeFlush = 5 * time.Second
	}
	o.table = table
	o.dst = dst
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	o.wbuf = new_buffer(0, o.config.BufSize)
	o.wlock = &sync.Mutex{}
	o.cond = sync.NewCond(&sync.Mutex{})
	o.quit = make(chan struct{})
	o.done = make(chan struct{})
	return o
}

func (st *Store) Run() {
	go st.timer_flusher()
	go st.handle()
}

func (st *Store) timer_flusher() {
	ticker := time.NewTicker(st.config.TickerDur)
	defer ticker.Stop()
	for {
		select {
		case <-st.quit:
			return
		case t := <-ticker.C:
			st.wlock.Lock()
			if len(st.wbuf.buf) != 0 && t.Sub(st.wbuf.t1) > st.config.MaxAgeFlush {
				st.flush()
			}
			st.wlock.Unlock()
		}
	}
}

func (st *Store) Put(order_id string, rider_id string, lat float64, lng float64, t time.Time) {
	rec := record{order_id: order_id, rider_id: rider_id, lat: lat, lng: lng, t: t}
	st.wlock.Lock()
	if len(st.wbuf.buf) == 0 {
		st.wbuf.t1 = time.Now().UTC()
	}
	st.wbuf.buf = append(st.wbuf.buf, rec)
	if len(st.wbuf.buf) == st.config.BufSize {
		st.flush()
	}
	st.wlock.Unlock()
}

// flush hands the write buffer to the flusher task. wlock must be held.
func (st *Store) flush() {
	next := st.wbuf.seq + 1
	st.wbuf.t2 = time.Now().UTC()
	st.cond.L.Lock()
	st.queue = append(st.queue, st.wbuf)
	st.cond.L.Unlock()
	st.cond.Signal()
	st.wbuf = new_buffer(next, st.config.BufSize)
}

func (st *Store) handle() {
	defer close(st.done)
	st.log.Info().Msg("starting flusher task")
	for {
		st.cond.L.Lock()
		for len(st.queue) == 0 && !st.closed {
			st.cond.Wait()
		}
		if len(st.queue) == 0 {
			st.cond.L.Unlock()
			return
		}
		buf := st.queue[0]
		st.queue = st.queue[1:]
		st.cond.L.Unlock()
		st.write(buf)
	}
}

func (st *Store) write(buf buffer) {
	t1 := time.Now()
	_, err := st.dst.CopyFrom(context.Background(),
		pgx.Identifier{st.table},
		locationColumns,
		pgx.CopyFromSlice(len(buf.buf), func(i int) ([]interface{}, error) {
			d := buf.buf[i]
			return []interface{}{d.order_id, d.rider_id, d.lat, d.lng, d.t}, nil
		}))
	if err != nil {
		st.log.Error().Err(err).Uint64("seq", buf.seq).Int("length", len(buf.buf)).Msg("flush error")
	} else {
		st.log.Debug().Str("action", "flush").Int("length", len(buf.buf)).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
	}
}

// Close writes out whatever is buffered and stops both tasks. Run must have
// been called.
func (st *Store) Close() {
	st.once.Do(func() {
		close(st.quit)
		st.wlock.Lock()
		if len(st.wbuf.buf) != 0 {
			st.flush()
		}
		st.wlock.Unlock()
		st.cond.L.Lock()
		st.closed = true
		st.cond.L.Unlock()
		st.cond.Broadcast()
		<-st.done
	})
}
