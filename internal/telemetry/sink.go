package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/RamXX/tminus-sub003/internal/metrics"
	"github.com/RamXX/tminus-sub003/internal/model"
	"github.com/RamXX/tminus-sub003/internal/repository"
)

// Sink はテレメトリイベントの送出先。
// Sendは失敗を呼び出し側に返さない。
type Sink interface {
	Send(ctx context.Context, event model.ErrorTelemetryEvent)
}

// SinkFunc は関数をSinkとして扱うアダプター。
type SinkFunc func(ctx context.Context, event model.ErrorTelemetryEvent)

// Send はfを呼び出す。
func (f SinkFunc) Send(ctx context.Context, event model.ErrorTelemetryEvent) {
	f(ctx, event)
}

// Nop はイベントを破棄するSink。
type Nop struct{}

// Send は何もしない。
func (Nop) Send(context.Context, model.ErrorTelemetryEvent) {}

// LogSink はイベントを構造化ログとして出力する。
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink はLogSinkを生成する。
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Send はイベントをログに出力する。
func (s *LogSink) Send(ctx context.Context, e model.ErrorTelemetryEvent) {
	attrs := []slog.Attr{
		slog.String("event_id", e.EventID),
		slog.String("code", e.Code),
		slog.String("provider", e.Provider),
		slog.String("severity", string(e.Severity)),
		slog.String("recovery_action", string(e.RecoveryAction)),
		slog.Time("occurred_at", e.OccurredAt),
	}
	if e.RetryCount != nil {
		attrs = append(attrs, slog.Int("retry_count", *e.RetryCount))
	}
	if e.Recovered != nil {
		attrs = append(attrs, slog.Bool("recovered", *e.Recovered))
	}
	if e.UserDismissed != nil {
		attrs = append(attrs, slog.Bool("user_dismissed", *e.UserDismissed))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "エラーテレメトリ", attrs...)
}

// MetricsSink はイベントをPrometheusメトリクスに集計する。
type MetricsSink struct {
	collector metrics.MetricsCollector
}

// NewMetricsSink はMetricsSinkを生成する。
func NewMetricsSink(collector metrics.MetricsCollector) *MetricsSink {
	return &MetricsSink{collector: collector}
}

// Send はイベントをメトリクスに反映する。
// 回復済みのイベントはエラー件数に含めず、回復件数としてのみ数える。
func (s *MetricsSink) Send(_ context.Context, e model.ErrorTelemetryEvent) {
	if e.RetryCount != nil {
		for i := 0; i < *e.RetryCount; i++ {
			s.collector.RecordRetry(e.Provider, e.Code)
		}
	}
	if e.Recovered != nil && *e.Recovered {
		s.collector.RecordRecovered(e.Provider)
		return
	}
	s.collector.RecordClassifiedError(e.Provider, e.Code, string(e.Severity))
}

// RepoSink はイベントをリポジトリに保存する。
// 保存に失敗した場合はログに記録して破棄する。
type RepoSink struct {
	repo   repository.TelemetryRepository
	logger *slog.Logger
}

// NewRepoSink はRepoSinkを生成する。
func NewRepoSink(repo repository.TelemetryRepository, logger *slog.Logger) *RepoSink {
	return &RepoSink{repo: repo, logger: logger}
}

// Send はイベントを保存する。
func (s *RepoSink) Send(ctx context.Context, e model.ErrorTelemetryEvent) {
	if err := s.repo.Insert(ctx, &e); err != nil {
		s.logger.Warn("エラーテレメトリの保存に失敗しました",
			slog.String("event_id", e.EventID),
			slog.String("error", err.Error()),
		)
	}
}

// Multi は複数のSinkへ順に送出する。
type Multi []Sink

// Send はすべてのSinkにイベントを送出する。
func (m Multi) Send(ctx context.Context, e model.ErrorTelemetryEvent) {
	for _, s := range m {
		s.Send(ctx, e)
	}
}

// Async はSinkをバックグラウンドのゴルーチンで呼び出すラッパー。
// Sendは呼び出し側をブロックせず、バッファが満杯の場合はイベントを破棄する。
type Async struct {
	next   Sink
	logger *slog.Logger
	queue  chan model.ErrorTelemetryEvent

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync はAsyncを生成し、配送用のゴルーチンを開始する。
func NewAsync(next Sink, buffer int, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 1
	}
	a := &Async{
		next:   next,
		logger: logger,
		queue:  make(chan model.ErrorTelemetryEvent, buffer),
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

// Send はイベントをキューに積む。
func (a *Async) Send(_ context.Context, e model.ErrorTelemetryEvent) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- e:
	default:
		a.logger.Warn("テレメトリキューが満杯のためイベントを破棄しました",
			slog.String("event_id", e.EventID),
			slog.String("code", e.Code),
		)
	}
}

// Close は新しいイベントの受付を止め、キューに残ったイベントを配送し終えるまで待つ。
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
}

func (a *Async) loop() {
	defer close(a.done)
	for e := range a.queue {
		// 呼び出し元のコンテキストはキャンセル済みの可能性があるため使わない
		a.next.Send(context.Background(), e)
	}
}

// compile-time interface check
var (
	_ Sink = Nop{}
	_ Sink = (*LogSink)(nil)
	_ Sink = (*MetricsSink)(nil)
	_ Sink = (*RepoSink)(nil)
	_ Sink = Multi(nil)
	_ Sink = (*Async)(nil)
	_ Sink = SinkFunc(nil)
)
