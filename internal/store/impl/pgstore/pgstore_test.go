package pgstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"

	"nuha.dev/ridertrack/internal/wire"
)

type mockCopier struct {
	mu      sync.Mutex
	batches [][][]interface{}
	table   string
	columns []string
}

func (m *mockCopier) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	var rows [][]interface{}
	for rowSrc.Next() {
		v, err := rowSrc.Values()
		if err != nil {
			return 0, err
		}
		rows = append(rows, v)
	}
	m.mu.Lock()
	m.batches = append(m.batches, rows)
	m.table = tableName[0]
	m.columns = columnNames
	m.mu.Unlock()
	return int64(len(rows)), nil
}

func (m *mockCopier) count() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return len(m.batches), n
}

func TestFlushOnFullBuffer(t *testing.T) {
	m := &mockCopier{}
	st := newStore(m, "rider_location", &StoreConfig{BufSize: 3, TickerDur: time.Hour, MaxAgeFlush: time.Hour})
	st.Run()
	now := time.Now()
	for i := 0; i < 7; i++ {
		st.Put("o1", "r1", float64(i), 1, now)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if b, _ := m.count(); b == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if b, n := m.count(); b != 2 || n != 6 {
		t.Errorf("batches %d rows %d before close", b, n)
	}
	st.Close()
	st.Close()
	if b, n := m.count(); b != 3 || n != 7 {
		t.Errorf("batches %d rows %d after close", b, n)
	}
	if m.table != "rider_location" || len(m.columns) != 5 {
		t.Errorf("table %s columns %v", m.table, m.columns)
	}
	row := m.batches[0][2]
	if row[0] != "o1" || row[1] != "r1" || row[2] != 2.0 {
		t.Errorf("row %v", row)
	}
}

func TestFlushOnAge(t *testing.T) {
	m := &mockCopier{}
	st := newStore(m, "rider_location", &StoreConfig{BufSize: 100, TickerDur: 5 * time.Millisecond, MaxAgeFlush: time.Millisecond})
	st.Run()
	defer st.Close()
	st.Put("o1", "r1", 1, 1, time.Now())
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, n := m.count(); n == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("buffer never flushed by age")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWaypointColumn(t *testing.T) {
	v, err := marshalWaypoint(nil)
	if err != nil || v != nil {
		t.Errorf("nil waypoint encoded as %v", v)
	}
	v, err = marshalWaypoint(&wire.Waypoint{Lat: 1.5, Lng: 2.5, Label: "home"})
	if err != nil {
		t.Fatal(err)
	}
	w, err := unmarshalWaypoint(v.(string))
	if err != nil || w.Label != "home" || w.Lat != 1.5 {
		t.Errorf("got %+v %v", w, err)
	}
	if w, _ := unmarshalWaypoint(""); w != nil {
		t.Error("empty column should be nil")
	}
}
