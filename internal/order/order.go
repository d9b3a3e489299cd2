// Package order holds the order record shared by the relay and its clients.
package order

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"nuha.dev/ridertrack/internal/wire"
)

var validate = validator.New()

var ErrNotFound = errors.New("order not found")

// Order is what the tracking side needs to know about an order: who rides it,
// where it stands, and the planned route.
type Order struct {
	OrderID     string         `json:"orderId" validate:"required"`
	RiderID     string         `json:"riderId"`
	Status      string         `json:"status" validate:"required"`
	Route       string         `json:"route,omitempty"`
	Restaurant  *wire.Waypoint `json:"restaurant,omitempty"`
	Destination *wire.Waypoint `json:"destination,omitempty"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Update is the body of PUT /orders/{orderId}. Empty fields keep their
// current value.
type Update struct {
	RiderID     string         `json:"riderId"`
	Status      string         `json:"status" validate:"omitempty,oneof=PENDING ACCEPTED PREPARING ASSIGNED OUT_FOR_DELIVERY DELIVERED CANCELLED REJECTED"`
	Route       string         `json:"route"`
	Restaurant  *wire.Waypoint `json:"restaurant"`
	Destination *wire.Waypoint `json:"destination"`
}

func (u *Update) Validate() error {
	return validate.Struct(u)
}

// Apply merges u into o.
func (o *Order) Apply(u *Update, now time.Time) {
	if u.RiderID != "" {
		o.RiderID = u.RiderID
	}
	if u.Status != "" {
		o.Status = u.Status
	}
	if u.Route != "" {
		o.Route = u.Route
	}
	if u.Restaurant != nil {
		o.Restaurant = u.Restaurant
	}
	if u.Destination != nil {
		o.Destination = u.Destination
	}
	o.UpdatedAt = now
}
