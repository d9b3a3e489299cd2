package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"nuha.dev/ridertrack/internal/polyline"
)

func TestMarshalLocation(t *testing.T) {
	s, err := MarshalLocation(&OutboundLocationMessage{OrderID: "o-1", RiderID: "r-9", Latitude: -6.2, Longitude: 106.8})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"orderId":"o-1","riderId":"r-9","latitude":-6.2,"longitude":106.8}`
	if s != want {
		t.Errorf("got %s\nwant %s", s, want)
	}
}

func TestMarshalLocationRejectsMissingIds(t *testing.T) {
	if _, err := MarshalLocation(&OutboundLocationMessage{OrderID: "o-1", Latitude: 1, Longitude: 1}); err == nil {
		t.Error("expected validation error for missing riderId")
	}
	if _, err := MarshalLocation(&OutboundLocationMessage{OrderID: "o-1", RiderID: "r", Latitude: 91}); err == nil {
		t.Error("expected validation error for latitude out of range")
	}
}

func TestParseLocation(t *testing.T) {
	m, err := ParseLocation([]byte(`{"orderId":"o","riderId":"r","latitude":1.5,"longitude":2.5}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.Latitude != 1.5 || m.Longitude != 2.5 {
		t.Errorf("got %+v", m)
	}
	_, err = ParseLocation([]byte(`{"orderId":`))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Errorf("expected *DecodeError, got %v", err)
	}
}

func TestParseFrame(t *testing.T) {
	in := `{"currentLocation":{"lat":38.5,"lng":-120.2},"deliveryPhase":"TO_CUSTOMER","estimatedTime":"12 min",` +
		`"finalDestination":{"lat":43.252,"lng":-126.453,"label":"home"},"nextStop":{"lat":40.7,"lng":-120.95},` +
		`"polyline":"_p~iF~ps|U_ulLnnqC_mqNvxq` + "`" + `@"}`
	f, route, err := ParseFrame(in)
	if err != nil {
		t.Fatal(err)
	}
	if f.DeliveryPhase != "TO_CUSTOMER" || f.EstimatedTime != "12 min" {
		t.Errorf("metadata: %+v", f)
	}
	if f.FinalDestination == nil || f.FinalDestination.Label != "home" {
		t.Errorf("final destination: %+v", f.FinalDestination)
	}
	if len(route) != 3 {
		t.Errorf("route length %d", len(route))
	}
}

func TestParseFrameErrors(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"currentLocation":`,
		"missing location": `{"deliveryPhase":"TO_CUSTOMER","polyline":""}`,
		"bad latitude":     `{"currentLocation":{"lat":123,"lng":0},"polyline":""}`,
		"bad polyline":     `{"currentLocation":{"lat":1,"lng":1},"polyline":"_p~iF"}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseFrame(in)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %v", err)
			}
		})
	}
	_, _, err := ParseFrame(`{"currentLocation":{"lat":1,"lng":1},"polyline":"_"}`)
	var pe *polyline.DecodeError
	if !errors.As(err, &pe) {
		t.Errorf("polyline failure should unwrap to *polyline.DecodeError, got %v", err)
	}
}

func TestMarshalFrame(t *testing.T) {
	b, err := MarshalFrame(&InboundTrackingFrame{CurrentLocation: &LatLng{Lat: 1, Lng: 2}, DeliveryPhase: "ARRIVING"})
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]interface{}
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if _, ok := back["finalDestination"]; ok {
		t.Error("nil finalDestination should be omitted")
	}
	if _, err := MarshalFrame(&InboundTrackingFrame{}); err == nil {
		t.Error("frame without currentLocation should not marshal")
	}
}

func TestIsKeepAlive(t *testing.T) {
	for _, s := range []string{"", " ", "\n\t "} {
		if !IsKeepAlive(s) {
			t.Errorf("%q should be a keep-alive", s)
		}
	}
	if IsKeepAlive("{}") {
		t.Error("{} is not a keep-alive")
	}
}
