package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/RamXX/tminus-sub003/internal/model"
)

// PostgresTelemetryRepo はPostgreSQLを使用したエラーテレメトリリポジトリ。
type PostgresTelemetryRepo struct {
	db *sql.DB
}

// NewPostgresTelemetryRepo はPostgresTelemetryRepoを生成する。
func NewPostgresTelemetryRepo(db *sql.DB) *PostgresTelemetryRepo {
	return &PostgresTelemetryRepo{db: db}
}

// Insert はイベントを保存する。同じevent_idの再送は無視する。
// 任意フィールドは未設定の場合NULLとして保存し、0やfalseと区別する。
func (r *PostgresTelemetryRepo) Insert(ctx context.Context, event *model.ErrorTelemetryEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO error_telemetry
		   (event_id, code, provider, severity, recovery_action, occurred_at, retry_count, recovered, user_dismissed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.Code, event.Provider, string(event.Severity), string(event.RecoveryAction),
		event.OccurredAt, nullInt(event.RetryCount), nullBool(event.Recovered), nullBool(event.UserDismissed),
	)
	if err != nil {
		return fmt.Errorf("failed to insert error telemetry: %w", err)
	}
	return nil
}

// CountByCode はsince以降に発生したイベントのコード別件数を返す。
func (r *PostgresTelemetryRepo) CountByCode(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT code, COUNT(*) FROM error_telemetry
		 WHERE occurred_at >= $1
		 GROUP BY code`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count error telemetry: %w", err)
	}
	defer rows.Close()

	return scanCodeCounts(rows)
}

// DeleteOlderThan はcutoffより前に発生したイベントを削除する。
func (r *PostgresTelemetryRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM error_telemetry WHERE occurred_at < $1`,
		cutoff,
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

func scanCodeCounts(rows *sql.Rows) (map[string]int, error) {
	counts := make(map[string]int)
	for rows.Next() {
		var code string
		var n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("failed to scan code count: %w", err)
		}
		counts[code] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate code counts: %w", err)
	}
	return counts, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

// compile-time interface check
var _ TelemetryRepository = (*PostgresTelemetryRepo)(nil)
