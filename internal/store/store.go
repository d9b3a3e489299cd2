package store

import (
	"context"
	"time"

	"nuha.dev/ridertrack/internal/order"
)

// LocationStore records accepted rider fixes. Put must not block the caller
// on I/O.
type LocationStore interface {
	Put(orderID string, riderID string, lat float64, lng float64, t time.Time)
}

// OrderStore keeps the order book. Get returns order.ErrNotFound for unknown
// orders.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*order.Order, error)
	Save(ctx context.Context, o *order.Order) error
}
