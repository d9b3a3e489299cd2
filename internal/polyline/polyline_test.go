package polyline

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

const tolerance = 1e-5

func near(a, b float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestDecodeFixture(t *testing.T) {
	pts, err := Decode("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []Point{{38.5, -120.2}, {40.7, -120.95}, {43.252, -126.453}}
	if len(pts) != len(want) {
		t.Fatalf("got %d points, want %d", len(pts), len(want))
	}
	for i := range want {
		if !near(pts[i].Lat, want[i].Lat) || !near(pts[i].Lng, want[i].Lng) {
			t.Errorf("point %d: got %+v, want %+v", i, pts[i], want[i])
		}
	}
}

func TestEncodeFixture(t *testing.T) {
	got := Encode([]Point{{38.5, -120.2}, {40.7, -120.95}, {43.252, -126.453}})
	if got != "_p~iF~ps|U_ulLnnqC_mqNvxq`@" {
		t.Errorf("Encode: got %q", got)
	}
}

func TestDecodeEmpty(t *testing.T) {
	pts, err := Decode("")
	if err != nil {
		t.Fatalf("Decode(\"\"): %v", err)
	}
	if len(pts) != 0 {
		t.Errorf("expected empty route, got %v", pts)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"truncated continuation": "_p~iF~ps|U_",
		"latitude only":          "_p~iF",
		"dangling continuation":  "_",
		"invalid character":      "_p~iF~ps|U \x01",
		"below offset":           "!!",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			pts, err := Decode(in)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %v (points %v)", err, pts)
			}
			if pts != nil {
				t.Errorf("expected no points on error, got %v", pts)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for n := 0; n < 50; n++ {
		pts := make([]Point, r.Intn(40))
		for i := range pts {
			pts[i] = Point{Lat: r.Float64()*180 - 90, Lng: r.Float64()*360 - 180}
		}
		got, err := Decode(Encode(pts))
		if err != nil {
			t.Fatalf("round trip %d: %v", n, err)
		}
		if len(got) != len(pts) {
			t.Fatalf("round trip %d: got %d points, want %d", n, len(got), len(pts))
		}
		for i := range pts {
			if !near(got[i].Lat, pts[i].Lat) || !near(got[i].Lng, pts[i].Lng) {
				t.Fatalf("round trip %d point %d: got %+v, want %+v", n, i, got[i], pts[i])
			}
		}
	}
}

func TestRoundTripPrecision6(t *testing.T) {
	pts := []Point{{-6.2000005, 106.816666}, {-6.175392, 106.827153}}
	got, err := DecodeWithPrecision(EncodeWithPrecision(pts, 6), 6)
	if err != nil {
		t.Fatal(err)
	}
	for i := range pts {
		if math.Abs(got[i].Lat-pts[i].Lat) > 1e-6 || math.Abs(got[i].Lng-pts[i].Lng) > 1e-6 {
			t.Errorf("point %d: got %+v, want %+v", i, got[i], pts[i])
		}
	}
}

func BenchmarkDecode(b *testing.B) {
	pts := make([]Point, 200)
	for i := range pts {
		pts[i] = Point{Lat: -6.2 + float64(i)*0.0003, Lng: 106.8 + float64(i)*0.0002}
	}
	enc := Encode(pts)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Decode(enc)
	}
}
