package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReadyz(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "kafka", Optional: true, Check: func(context.Context) error { return errors.New("down") }},
	)
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 with only optional failures, got %d", rw.Code)
	}
	if rw.Header().Get("X-Degraded") != "kafka: down" {
		t.Fatalf("expected degraded header, got %q", rw.Header().Get("X-Degraded"))
	}

	mux = NewBaseMuxWithReady(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return errors.New("refused") }},
	)
	rw = httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rw.Code)
	}
	if rw.Body.String() != "db: refused" {
		t.Fatalf("unexpected body %q", rw.Body.String())
	}
}

func TestLoggerLevelAndService(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "booking-service", "warn")
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "shown" || entry["service"] != "booking-service" || entry["k"] != "v" {
		t.Fatalf("unexpected entry %v", entry)
	}
}
