package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/RamXX/tminus-sub003/internal/metrics"
)

// statusRecorder は書き込まれたステータスとバイト数を記録する。
// written が true になった後はレスポンスが送信済みとみなす。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
	written    bool
}

func (sr *statusRecorder) markStarted(code int) {
	if sr.written {
		return
	}
	sr.statusCode = code
	sr.written = true
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.markStarted(code)
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.markStarted(http.StatusOK)
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// Flush はwatchのイベントを逐次送るため下位のFlusherへ委譲する。
func (sr *statusRecorder) Flush() {
	sr.markStarted(http.StatusOK)
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap はhttp.ResponseControllerが元のResponseWriterに到達できるようにする。
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// levelForStatus は5xxをERROR、4xxをWARN、それ以外をINFOとする。
func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// NewLoggingMiddleware はリクエストごとに "http_request" を1行出力し、
// ステータスコードをcollectorに記録する。
//
// セッションのルートではchiのルートパターンとsession_idを付与する。
// watchのようなイベントストリームは stream=true として区別する。
// collectorがnilの場合はメトリクスを記録しない。
func NewLoggingMiddleware(logger *slog.Logger, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					attrs = append(attrs, slog.String("route", pattern))
				}
				if sessionID := rctx.URLParam("id"); sessionID != "" {
					attrs = append(attrs, slog.String("session_id", sessionID))
				}
			}
			if strings.HasPrefix(rec.Header().Get("Content-Type"), "text/event-stream") {
				attrs = append(attrs, slog.Bool("stream", true))
			}

			collector.RecordHTTPStatus(rec.statusCode)
			logger.LogAttrs(r.Context(), levelForStatus(rec.statusCode), "http_request", attrs...)
		})
	}
}
