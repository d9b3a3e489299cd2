package memstore

import (
	"context"
	"sync"

	"nuha.dev/ridertrack/internal/order"
)

// OrderStore is an in-process order book.
type OrderStore struct {
	mu   sync.Mutex
	list map[string]order.Order
}

func NewOrderStore() *OrderStore {
	return &OrderStore{list: make(map[string]order.Order)}
}

func (m *OrderStore) Get(ctx context.Context, orderID string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.list[orderID]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (m *OrderStore) Save(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	m.list[o.OrderID] = *o
	m.mu.Unlock()
	return nil
}
