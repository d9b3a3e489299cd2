package logstore

import (
	"time"

	"github.com/phuslu/log"
)

// LogStore only logs fixes. Used when no database is configured.
type LogStore struct {
	log log.Logger
}

func NewStore() *LogStore {
	l := &LogStore{}
	l.log = log.DefaultLogger
	l.log.Context = log.NewContext(nil).Str("module", "logstore").Value()
	return l
}

func (l *LogStore) Put(order_id string, rider_id string, lat float64, lng float64, t time.Time) {
	l.log.Debug().Str("order_id", order_id).Str("rider_id", rider_id).Float64("lat", lat).Float64("lng", lng).Time("recorded_at", t).Msg("location")
}
