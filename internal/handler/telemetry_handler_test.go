package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/RamXX/tminus-sub003/internal/classify"
	"github.com/RamXX/tminus-sub003/internal/middleware"
	"github.com/RamXX/tminus-sub003/internal/model"
	"github.com/RamXX/tminus-sub003/internal/telemetry"
)

type recordingSink struct {
	mu     sync.Mutex
	events []model.ErrorTelemetryEvent
}

func (s *recordingSink) Send(_ context.Context, e model.ErrorTelemetryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) Events() []model.ErrorTelemetryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ErrorTelemetryEvent(nil), s.events...)
}

func newTelemetryRouter(sink telemetry.Sink) http.Handler {
	return NewRouter(&RouterDeps{
		RateLimiter:   middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig()),
		TelemetrySink: sink,
	})
}

func TestTelemetryHandler_Ingest_Accepted(t *testing.T) {
	sink := &recordingSink{}
	event := telemetry.NewErrorEvent(classify.ClassifyOAuthError(classify.CodeProviderUnavailable, "google"),
		telemetry.WithRetryCount(0), telemetry.WithRecovered(false))
	body, _ := json.Marshal(event)

	w := doRequest(newTelemetryRouter(sink), http.MethodPost, "/api/telemetry/errors", "", string(body))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	got := sink.Events()
	if len(got) != 1 {
		t.Fatalf("sent %d events, want 1", len(got))
	}
	if got[0].EventID != event.EventID || got[0].Code != classify.CodeProviderUnavailable {
		t.Errorf("event = %+v", got[0])
	}
	if got[0].RetryCount == nil || *got[0].RetryCount != 0 {
		t.Errorf("retry_count = %v, want 0", got[0].RetryCount)
	}
	if got[0].UserDismissed != nil {
		t.Error("user_dismissed should stay absent")
	}
}

func TestTelemetryHandler_Ingest_Rejected(t *testing.T) {
	valid := telemetry.NewErrorEvent(classify.ClassifyCalDavError(classify.CodeTimeout))

	missingCode := valid
	missingCode.Code = ""
	badSeverity := valid
	badSeverity.Severity = "fatal"
	noTime := valid
	noTime.OccurredAt = time.Time{}

	tests := []struct {
		name string
		body string
	}{
		{"JSONでない", `{oops`},
		{"コードなし", mustJSON(t, missingCode)},
		{"不明な深刻度", mustJSON(t, badSeverity)},
		{"発生時刻なし", mustJSON(t, noTime)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			w := doRequest(newTelemetryRouter(sink), http.MethodPost, "/api/telemetry/errors", "", tt.body)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if len(sink.Events()) != 0 {
				t.Error("invalid events must not reach the sink")
			}
		})
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

// --- Health ---

type mockHealthChecker struct {
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.pingFn(ctx)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		checker HealthChecker
		status  int
		want    string
	}{
		{"チェッカーなし", nil, http.StatusOK, "ok"},
		{"疎通成功", &mockHealthChecker{pingFn: func(context.Context) error { return nil }}, http.StatusOK, "ok"},
		{"疎通失敗", &mockHealthChecker{pingFn: func(context.Context) error { return errors.New("down") }}, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(&RouterDeps{
				RateLimiter:   middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig()),
				HealthChecker: tt.checker,
			})
			w := doRequest(h, http.MethodGet, "/health", "", "")

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != tt.want {
				t.Errorf("status field = %q, want %q", body["status"], tt.want)
			}
		})
	}
}
