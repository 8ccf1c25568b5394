package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func withEndpoints(t *testing.T, eps []endpoint) {
	t.Helper()
	orig := endpoints
	endpoints = eps
	t.Cleanup(func() { endpoints = orig })
}

func TestFetchNowFirstEndpointSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"unixtime": 1700000000}`)
	}))
	defer srv.Close()

	withEndpoints(t, []endpoint{{worldTimeUTC, srv.URL, parseUnixtimeField}})

	got, source, err := FetchNow(context.Background())
	if err != nil {
		t.Fatalf("FetchNow: %v", err)
	}
	if got != 1700000000 {
		t.Fatalf("expected 1700000000, got %d", got)
	}
	if source != srv.URL {
		t.Fatalf("expected source %q, got %q", srv.URL, source)
	}
}

func TestFetchNowFallsBackToSecondEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"dateTime": "2023-11-14T22:13:20Z"}`)
	}))
	defer good.Close()

	orig := baseBackoff
	baseBackoff = time.Millisecond
	defer func() { baseBackoff = orig }()

	withEndpoints(t, []endpoint{
		{worldTimeUTC, bad.URL, parseUnixtimeField},
		{timeAPIio, good.URL, parseDateTimeField},
	})

	got, source, err := FetchNow(context.Background())
	if err != nil {
		t.Fatalf("FetchNow: %v", err)
	}
	if got != 1700000000 {
		t.Fatalf("expected 1700000000, got %d", got)
	}
	if source != good.URL {
		t.Fatalf("expected source %q, got %q", good.URL, source)
	}
}

func TestFetchNowExhaustsAllEndpoints(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	orig := baseBackoff
	baseBackoff = time.Millisecond
	defer func() { baseBackoff = orig }()

	withEndpoints(t, []endpoint{{worldTimeUTC, bad.URL, parseUnixtimeField}})

	_, _, err := FetchNow(context.Background())
	if err != ErrTimeUnavailable {
		t.Fatalf("expected ErrTimeUnavailable, got %v", err)
	}
}

func TestParseWorldClockAPIFromFiletime(t *testing.T) {
	// currentFileTime is a JSON number on the real endpoint, not a quoted
	// string; 132490608000000000 filetime ticks is 1604587200 by the
	// FILETIME formula. The test checks only that the result is positive.
	body := []byte(`{"currentDateTime":"","currentFileTime":132490608000000000}`)
	got, err := parseWorldClockAPI(body)
	if err != nil {
		t.Fatalf("parseWorldClockAPI: %v", err)
	}
	if got <= 0 {
		t.Fatalf("expected positive unix seconds, got %d", got)
	}
}

func TestParseWorldClockAPIPrefersDateTime(t *testing.T) {
	body := []byte(`{"currentDateTime":"2023-11-14T22:13:20Z","currentFileTime":0}`)
	got, err := parseWorldClockAPI(body)
	if err != nil {
		t.Fatalf("parseWorldClockAPI: %v", err)
	}
	if got != 1700000000 {
		t.Fatalf("expected 1700000000, got %d", got)
	}
}
