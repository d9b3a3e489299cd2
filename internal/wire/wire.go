// Package wire defines the JSON messages exchanged over a tracking
// connection: rider fixes going up and tracking frames coming down.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"nuha.dev/ridertrack/internal/polyline"
)

var validate = validator.New()

// OutboundLocationMessage is sent by the rider for every fix. The first one
// on a connection doubles as the handshake.
type OutboundLocationMessage struct {
	OrderID   string  `json:"orderId" validate:"required"`
	RiderID   string  `json:"riderId" validate:"required"`
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
}

type LatLng struct {
	Lat float64 `json:"lat" validate:"min=-90,max=90"`
	Lng float64 `json:"lng" validate:"min=-180,max=180"`
}

type Waypoint struct {
	Lat   float64 `json:"lat" validate:"min=-90,max=90"`
	Lng   float64 `json:"lng" validate:"min=-180,max=180"`
	Label string  `json:"label,omitempty"`
}

// InboundTrackingFrame is pushed by the server to customers and restaurants.
type InboundTrackingFrame struct {
	CurrentLocation  *LatLng   `json:"currentLocation" validate:"required"`
	DeliveryPhase    string    `json:"deliveryPhase"`
	EstimatedTime    string    `json:"estimatedTime"`
	FinalDestination *Waypoint `json:"finalDestination,omitempty"`
	NextStop         *Waypoint `json:"nextStop,omitempty"`
	Polyline         string    `json:"polyline"`
}

// DecodeError is returned for a frame that is not valid JSON, fails
// validation, or carries a malformed polyline.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return "wire: decode: " + e.Err.Error()
	}
	return fmt.Sprintf("wire: decode %s: %s", e.Field, e.Err.Error())
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsKeepAlive reports whether a frame carries nothing but whitespace.
func IsKeepAlive(frame string) bool {
	return strings.TrimSpace(frame) == ""
}

func MarshalLocation(m *OutboundLocationMessage) (string, error) {
	if err := validate.Struct(m); err != nil {
		return "", err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func ParseLocation(b []byte) (*OutboundLocationMessage, error) {
	m := &OutboundLocationMessage{}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if err := validate.Struct(m); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return m, nil
}

func MarshalFrame(f *InboundTrackingFrame) ([]byte, error) {
	if err := validate.Struct(f); err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

// ParseFrame decodes a tracking frame together with its route geometry.
func ParseFrame(frame string) (*InboundTrackingFrame, []polyline.Point, error) {
	f := &InboundTrackingFrame{}
	if err := json.Unmarshal([]byte(frame), f); err != nil {
		return nil, nil, &DecodeError{Err: err}
	}
	if err := validate.Struct(f); err != nil {
		return nil, nil, &DecodeError{Err: err}
	}
	route, err := polyline.Decode(f.Polyline)
	if err != nil {
		return nil, nil, &DecodeError{Field: "polyline", Err: err}
	}
	return f, route, nil
}
