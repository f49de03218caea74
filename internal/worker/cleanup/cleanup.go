// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 最後の書き込みからTTLを過ぎたオンボーディングセッションと、
// 保持期間（デフォルト30日）を超過したエラーテレメトリを定期的に削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SessionExpirer は期限切れセッションを削除する。
type SessionExpirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TelemetryPruner は古いテレメトリイベントを削除する。
type TelemetryPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は期限切れデータの削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	sessions  SessionExpirer
	telemetry TelemetryPruner
	logger    *slog.Logger
	now       func() time.Time

	TelemetryRetention time.Duration // テレメトリの保持期間（デフォルト: 30日）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions SessionExpirer, telemetry TelemetryPruner, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions:           sessions,
		telemetry:          telemetry,
		logger:             logger,
		now:                time.Now,
		TelemetryRetention: 30 * 24 * time.Hour,
	}
}

// Run は期限切れセッションと古いテレメトリを削除する。
// 片方が失敗してももう片方は実行し、両方のエラーをまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now().UTC()

	sessions, sessErr := j.sessions.DeleteExpired(ctx, now)
	if sessErr != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", sessErr.Error()),
		)
		sessErr = fmt.Errorf("セッションクリーンアップの実行に失敗: %w", sessErr)
	}

	events, telErr := j.telemetry.DeleteOlderThan(ctx, now.Add(-j.TelemetryRetention))
	if telErr != nil {
		j.logger.Error("テレメトリの削除に失敗しました",
			slog.String("error", telErr.Error()),
			slog.Duration("retention", j.TelemetryRetention),
		)
		telErr = fmt.Errorf("テレメトリクリーンアップの実行に失敗: %w", telErr)
	}

	if err := errors.Join(sessErr, telErr); err != nil {
		return err
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_events", events),
		slog.Duration("retention", j.TelemetryRetention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降intervalごとにRunを繰り返す。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *CleanupJob) runOnce(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}
