// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/RamXX/tminus-sub003/internal/model"
)

// OnboardingSessionRepository はオンボーディングセッションの永続化インターフェース。
// 本文はシリアライズ済みのバイト列として保存し、書き込みは後勝ちとする。
type OnboardingSessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.StoredSession) error
	// FindByID は指定IDのセッションを取得する。見つからない場合・期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.StoredSession, error)
	// Update はセッション本文と有効期限を上書きする。対象がない場合はErrNotFoundを返す。
	Update(ctx context.Context, session *model.StoredSession) error
	// DeleteExpired はnow時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TelemetryRepository はエラーテレメトリの永続化インターフェース。
type TelemetryRepository interface {
	// Insert はイベントを保存する。同じEventIDの再送は無視する。
	Insert(ctx context.Context, event *model.ErrorTelemetryEvent) error
	// CountByCode はコード別の件数を返す。
	CountByCode(ctx context.Context, since time.Time) (map[string]int, error)
	// DeleteOlderThan はcutoffより前に発生したイベントを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
