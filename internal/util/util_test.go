package util

import (
	"net/http/httptest"
	"testing"
)

func TestCheckPwd(t *testing.T) {
	h := CryptPwd("s3cret")
	if !CheckPwd(h, "s3cret") {
		t.Error("matching password refused")
	}
	if CheckPwd(h, "other") {
		t.Error("wrong password accepted")
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/rider/o1?token=q", nil)
	if tok := BearerToken(r); tok != "q" {
		t.Errorf("query token %q", tok)
	}
	r.Header.Set("Authorization", "Bearer h")
	if tok := BearerToken(r); tok != "h" {
		t.Errorf("header token %q", tok)
	}
}

func TestGenRandomString(t *testing.T) {
	a, b := GenRandomString(nil, 16), GenRandomString(nil, 16)
	if a == b || len(a) != 22 {
		t.Errorf("got %q %q", a, b)
	}
}
