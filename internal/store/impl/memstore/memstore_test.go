package memstore

import (
	"context"
	"errors"
	"testing"

	"nuha.dev/ridertrack/internal/order"
)

func TestOrderStore(t *testing.T) {
	m := NewOrderStore()
	ctx := context.Background()
	if _, err := m.Get(ctx, "o1"); !errors.Is(err, order.ErrNotFound) {
		t.Errorf("got %v", err)
	}
	o := &order.Order{OrderID: "o1", Status: "ASSIGNED"}
	m.Save(ctx, o)
	o.Status = "CHANGED"
	got, err := m.Get(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "ASSIGNED" {
		t.Errorf("store shares memory with caller: %s", got.Status)
	}
	got.Status = "MUTATED"
	again, _ := m.Get(ctx, "o1")
	if again.Status != "ASSIGNED" {
		t.Errorf("store shares memory with reader: %s", again.Status)
	}
}
