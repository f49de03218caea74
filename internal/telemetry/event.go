// Package telemetry はClassifiedErrorを匿名化したエラーイベントの生成と送出を提供する。
// 送出は投げっぱなしで、呼び出し側は配送結果に依存しない。
package telemetry

import (
	"time"

	"github.com/google/uuid"

	"github.com/RamXX/tminus-sub003/internal/model"
)

// Option はイベントの任意フィールドを設定する。
// 指定しなかったフィールドはキーごと存在しない。
type Option func(*model.ErrorTelemetryEvent)

// WithRetryCount はリトライ回数を設定する。0も有効な値として記録される。
func WithRetryCount(n int) Option {
	return func(e *model.ErrorTelemetryEvent) {
		e.RetryCount = &n
	}
}

// WithRecovered はリトライ後に回復したかを設定する。
func WithRecovered(recovered bool) Option {
	return func(e *model.ErrorTelemetryEvent) {
		e.Recovered = &recovered
	}
}

// WithUserDismissed はユーザーがエラー表示を閉じたかを設定する。
func WithUserDismissed(dismissed bool) Option {
	return func(e *model.ErrorTelemetryEvent) {
		e.UserDismissed = &dismissed
	}
}

// WithOccurredAt は発生時刻を上書きする。
func WithOccurredAt(t time.Time) Option {
	return func(e *model.ErrorTelemetryEvent) {
		e.OccurredAt = t.UTC()
	}
}

// NewErrorEvent は分類済みエラーからテレメトリイベントを生成する。
// メッセージや表示ラベルは含めず、コード・プロバイダー・深刻度・復旧操作のみを投影する。
func NewErrorEvent(classified model.ClassifiedError, opts ...Option) model.ErrorTelemetryEvent {
	e := model.ErrorTelemetryEvent{
		EventID:        uuid.NewString(),
		Code:           classified.Code,
		Provider:       classified.Provider,
		Severity:       classified.Severity,
		RecoveryAction: classified.RecoveryAction,
		OccurredAt:     time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Validate は受信したイベントが最低限のフィールドを持つかを返す。
func Validate(e model.ErrorTelemetryEvent) bool {
	if e.EventID == "" || e.Code == "" || e.RecoveryAction == "" {
		return false
	}
	if e.Severity != model.SeverityTransient && e.Severity != model.SeverityPersistent {
		return false
	}
	if e.RetryCount != nil && *e.RetryCount < 0 {
		return false
	}
	return !e.OccurredAt.IsZero()
}
