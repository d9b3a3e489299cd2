// Package polyline implements the encoded polyline algorithm used to ship
// route geometry as compact ASCII: coordinates are delta encoded, scaled to
// an integer precision, zig-zag signed and packed in 5-bit groups offset by
// 63 with 0x20 as the continuation bit.
package polyline

import (
	"fmt"
	"math"
	"strings"
)

// DefaultPrecision is 1e-5 degree, five decimal places.
const DefaultPrecision = 5

const (
	charOffset   = 63
	chunkMask    = 0x1f
	continuation = 0x20
	maxShift     = 60
)

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DecodeError reports malformed input. Offset is the byte index at which
// decoding stopped.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("polyline: %s at offset %d", e.Reason, e.Offset)
}

// Decode decodes a polyline at DefaultPrecision. An empty string decodes to
// an empty route.
func Decode(encoded string) ([]Point, error) {
	return DecodeWithPrecision(encoded, DefaultPrecision)
}

func DecodeWithPrecision(encoded string, precision int) ([]Point, error) {
	factor := math.Pow10(precision)
	points := make([]Point, 0, len(encoded)/4)
	var lat, lng int64
	idx := 0
	for idx < len(encoded) {
		dlat, next, err := readValue(encoded, idx)
		if err != nil {
			return nil, err
		}
		if next >= len(encoded) {
			return nil, &DecodeError{Offset: next, Reason: "latitude without longitude"}
		}
		dlng, next, err := readValue(encoded, next)
		if err != nil {
			return nil, err
		}
		idx = next
		lat += dlat
		lng += dlng
		points = append(points, Point{Lat: float64(lat) / factor, Lng: float64(lng) / factor})
	}
	return points, nil
}

func readValue(encoded string, idx int) (int64, int, error) {
	var result int64
	shift := uint(0)
	for {
		if idx >= len(encoded) {
			return 0, idx, &DecodeError{Offset: idx, Reason: "truncated value"}
		}
		c := encoded[idx]
		if c < charOffset || c > charOffset+chunkMask+continuation {
			return 0, idx, &DecodeError{Offset: idx, Reason: fmt.Sprintf("invalid character %q", c)}
		}
		b := int64(c) - charOffset
		idx++
		result |= (b & chunkMask) << shift
		shift += 5
		if b < continuation {
			break
		}
		if shift > maxShift {
			return 0, idx, &DecodeError{Offset: idx, Reason: "value overflow"}
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), idx, nil
	}
	return result >> 1, idx, nil
}

// Encode encodes points at DefaultPrecision.
func Encode(points []Point) string {
	return EncodeWithPrecision(points, DefaultPrecision)
}

func EncodeWithPrecision(points []Point, precision int) string {
	factor := math.Pow10(precision)
	var sb strings.Builder
	sb.Grow(len(points) * 8)
	var plat, plng int64
	for _, p := range points {
		lat := int64(math.Round(p.Lat * factor))
		lng := int64(math.Round(p.Lng * factor))
		writeValue(&sb, lat-plat)
		writeValue(&sb, lng-plng)
		plat, plng = lat, lng
	}
	return sb.String()
}

func writeValue(sb *strings.Builder, v int64) {
	u := uint64(v) << 1
	if v < 0 {
		u = ^u
	}
	for u >= continuation {
		sb.WriteByte(byte((u&chunkMask)|continuation) + charOffset)
		u >>= 5
	}
	sb.WriteByte(byte(u) + charOffset)
}
