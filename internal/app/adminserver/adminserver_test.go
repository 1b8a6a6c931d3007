package adminserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"waconnect/internal/pool"
	"waconnect/pkg/logger"
)

func testLogger() logger.Logger {
	zl := zerolog.Nop()
	return logger.NewZerologLogger(&zl)
}

func TestHealthz(t *testing.T) {
	p := pool.New(pool.Config{}, nil, nil, nil, nil, nil, nil, nil, testLogger())
	srv := New(p, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want %q", body["status"], "ok")
	}
}

func TestDebugSessionsEmpty(t *testing.T) {
	p := pool.New(pool.Config{}, nil, nil, nil, nil, nil, nil, nil, testLogger())
	srv := New(p, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/debug/sessions", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var sessions []sessionSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("unmarshal response body: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no sessions on a fresh pool, got %d", len(sessions))
	}
}
