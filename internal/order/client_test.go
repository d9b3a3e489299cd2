package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func orderServer(t *testing.T, orders map[string]*Order) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		id := r.URL.Path[len("/orders/"):]
		o, ok := orders[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodPut {
			u := &Update{}
			json.NewDecoder(r.Body).Decode(u)
			o.Apply(u, o.UpdatedAt)
		}
		json.NewEncoder(w).Encode(o)
	}))
}

func TestClientGet(t *testing.T) {
	srv := orderServer(t, map[string]*Order{
		"o1":  {OrderID: "o1", RiderID: "r1", Status: "OUT_FOR_DELIVERY"},
		"bad": {OrderID: "bad"},
	})
	defer srv.Close()
	c := NewClient(&ClientConfig{BaseURL: srv.URL, Token: "secret"})

	o, err := c.Get(context.Background(), "o1")
	if err != nil {
		t.Fatal(err)
	}
	if o.RiderID != "r1" || o.Status != "OUT_FOR_DELIVERY" {
		t.Errorf("got %+v", o)
	}
	rider, err := c.RiderFor(context.Background(), "o1")
	if err != nil || rider != "r1" {
		t.Errorf("rider %q err %v", rider, err)
	}
	if _, err := c.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing order: %v", err)
	}
	if _, err := c.Get(context.Background(), "bad"); err == nil {
		t.Error("order without status accepted")
	}

	anon := NewClient(&ClientConfig{BaseURL: srv.URL})
	if _, err := anon.Get(context.Background(), "o1"); err == nil {
		t.Error("unauthorized request succeeded")
	}
}

func TestClientPut(t *testing.T) {
	srv := orderServer(t, map[string]*Order{"o1": {OrderID: "o1", Status: "ASSIGNED"}})
	defer srv.Close()
	c := NewClient(&ClientConfig{BaseURL: srv.URL, Token: "secret"})

	o, err := c.Put(context.Background(), "o1", &Update{RiderID: "r7", Status: "OUT_FOR_DELIVERY"})
	if err != nil {
		t.Fatal(err)
	}
	if o.RiderID != "r7" || o.Status != "OUT_FOR_DELIVERY" {
		t.Errorf("got %+v", o)
	}
	if _, err := c.Put(context.Background(), "o1", &Update{Status: "LOST"}); err == nil {
		t.Error("unknown status accepted")
	}
}
