package history

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paradrop/agent/internal/store"
)

func sampleEvent() Event {
	return Event{
		OccurredAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		RouterID:   "r1",
		Record: store.Record{
			Token:   101,
			Class:   "CHUTE",
			Type:    "create",
			Name:    "cam",
			Success: true,
			Message: "done",
		},
	}
}

func TestClickHouseSink(t *testing.T) {
	var gotQuery, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	s := NewClickHouseSink(srv.URL, "update_history")
	if err := s.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotQuery != "INSERT INTO update_history FORMAT JSONEachRow" {
		t.Fatalf("query: %q", gotQuery)
	}
	if !strings.HasSuffix(gotBody, "\n") {
		t.Fatalf("JSONEachRow line must end with newline")
	}
	var e Event
	if err := json.Unmarshal([]byte(gotBody), &e); err != nil {
		t.Fatalf("body: %v", err)
	}
	if e.RouterID != "r1" || e.Record.Name != "cam" {
		t.Fatalf("event: %+v", e)
	}
}

func TestOpenSearchSink(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer srv.Close()

	s := NewOpenSearchSink(srv.URL, "paradrop-updates")
	if err := s.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/paradrop-updates/_doc" {
		t.Fatalf("path: %q", gotPath)
	}
}

func TestSinkReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewOpenSearchSink(srv.URL, "x").Send(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected error for HTTP 502")
	}
}
