package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"

	"nuha.dev/ridertrack/internal/order"
	"nuha.dev/ridertrack/internal/wire"
)

// Schema creates the tables both stores write to.
const Schema = `
CREATE TABLE IF NOT EXISTS tracked_order (
	order_id    text PRIMARY KEY,
	rider_id    text NOT NULL DEFAULT '',
	status      text NOT NULL,
	route       text NOT NULL DEFAULT '',
	restaurant  jsonb,
	destination jsonb,
	updated_at  timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS rider_location (
	order_id    text NOT NULL,
	rider_id    text NOT NULL,
	latitude    double precision NOT NULL,
	longitude   double precision NOT NULL,
	recorded_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS rider_location_order_idx ON rider_location (order_id, recorded_at);
`

type PgOrderStore struct {
	db  *pgxpool.Pool
	log log.Logger
}

func NewOrderStore(db *pgxpool.Pool) *PgOrderStore {
	m := PgOrderStore{}
	m.db = db
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "order_store").Value()
	return &m
}

// InitSchema runs Schema.
func InitSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, Schema)
	return err
}

func (st *PgOrderStore) Get(ctx context.Context, orderID string) (*order.Order, error) {
	o := &order.Order{}
	var restaurant, destination string
	err := st.db.QueryRow(ctx, `SELECT order_id, rider_id, status, route, coalesce(restaurant::text, ''), coalesce(destination::text, ''), updated_at FROM tracked_order WHERE order_id = $1`, orderID).
		Scan(&o.OrderID, &o.RiderID, &o.Status, &o.Route, &restaurant, &destination, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, st.wrap("select", err)
	}
	if o.Restaurant, err = unmarshalWaypoint(restaurant); err != nil {
		return nil, err
	}
	if o.Destination, err = unmarshalWaypoint(destination); err != nil {
		return nil, err
	}
	return o, nil
}

func (st *PgOrderStore) Save(ctx context.Context, o *order.Order) error {
	restaurant, err := marshalWaypoint(o.Restaurant)
	if err != nil {
		return err
	}
	destination, err := marshalWaypoint(o.Destination)
	if err != nil {
		return err
	}
	_, err = st.db.Exec(ctx, `INSERT INTO tracked_order (order_id, rider_id, status, route, restaurant, destination, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (order_id) DO UPDATE SET rider_id = EXCLUDED.rider_id, status = EXCLUDED.status, route = EXCLUDED.route,
	restaurant = EXCLUDED.restaurant, destination = EXCLUDED.destination, updated_at = EXCLUDED.updated_at`,
		o.OrderID, o.RiderID, o.Status, o.Route, restaurant, destination, o.UpdatedAt)
	if err != nil {
		return st.wrap("upsert", err)
	}
	return nil
}

func (st *PgOrderStore) wrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		st.log.Error().Err(err).Msg("tracked_order table missing, run with -initdb")
	} else {
		st.log.Error().Err(err).Str("op", op).Msg("order store error")
	}
	return fmt.Errorf("order store %s: %w", op, err)
}

// marshalWaypoint returns an untyped nil for a missing waypoint so the
// column is written as NULL.
func marshalWaypoint(w *wire.Waypoint) (interface{}, error) {
	if w == nil {
		return nil, nil
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalWaypoint(s string) (*wire.Waypoint, error) {
	if s == "" {
		return nil, nil
	}
	w := &wire.Waypoint{}
	if err := json.Unmarshal([]byte(s), w); err != nil {
		return nil, err
	}
	return w, nil
}
