package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/RamXX/tminus-sub003/internal/model"
)

// SQLiteTelemetryRepo はSQLiteを使用したエラーテレメトリリポジトリ。
type SQLiteTelemetryRepo struct {
	db *sql.DB
}

// NewSQLiteTelemetryRepo はSQLiteTelemetryRepoを生成する。
func NewSQLiteTelemetryRepo(db *sql.DB) *SQLiteTelemetryRepo {
	return &SQLiteTelemetryRepo{db: db}
}

// Insert はイベントを保存する。同じevent_idの再送は無視する。
func (r *SQLiteTelemetryRepo) Insert(ctx context.Context, event *model.ErrorTelemetryEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO error_telemetry
		   (event_id, code, provider, severity, recovery_action, occurred_at, retry_count, recovered, user_dismissed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(event_id) DO NOTHING`,
		event.EventID, event.Code, event.Provider, string(event.Severity), string(event.RecoveryAction),
		ts(event.OccurredAt), nullInt(event.RetryCount), nullBool(event.Recovered), nullBool(event.UserDismissed),
	)
	if err != nil {
		return fmt.Errorf("failed to insert error telemetry: %w", err)
	}
	return nil
}

// CountByCode はsince以降に発生したイベントのコード別件数を返す。
func (r *SQLiteTelemetryRepo) CountByCode(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT code, COUNT(*) FROM error_telemetry
		 WHERE occurred_at >= ?
		 GROUP BY code`,
		ts(since),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count error telemetry: %w", err)
	}
	defer rows.Close()

	return scanCodeCounts(rows)
}

// DeleteOlderThan はcutoffより前に発生したイベントを削除する。
func (r *SQLiteTelemetryRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM error_telemetry WHERE occurred_at < ?`,
		ts(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete error telemetry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ TelemetryRepository = (*SQLiteTelemetryRepo)(nil)
