package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/RamXX/tminus-sub003/internal/model"
)

// sqliteTimeLayout はSQLiteにTEXTとして保存する時刻の書式。
// 固定長のため文字列比較で時刻順に並ぶ。
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// SQLiteSessionRepo はSQLiteを使用したオンボーディングセッションリポジトリ。
// 単一バイナリでのローカル実行とテストで使用する。
type SQLiteSessionRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteSessionRepo はSQLiteSessionRepoを生成する。
func NewSQLiteSessionRepo(db *sql.DB) *SQLiteSessionRepo {
	return &SQLiteSessionRepo{db: db, now: time.Now}
}

// Create はセッションを作成する。
func (r *SQLiteSessionRepo) Create(ctx context.Context, session *model.StoredSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO onboarding_sessions (id, user_id, data, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.Data, ts(session.ExpiresAt), ts(session.CreatedAt), ts(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create onboarding session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合・期限切れの場合はnilを返す。
func (r *SQLiteSessionRepo) FindByID(ctx context.Context, id string) (*model.StoredSession, error) {
	var (
		session                         model.StoredSession
		expiresAt, createdAt, updatedAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, data, expires_at, created_at, updated_at
		 FROM onboarding_sessions
		 WHERE id = ? AND expires_at > ?`,
		id, ts(r.now()),
	).Scan(&session.ID, &session.UserID, &session.Data, &expiresAt, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find onboarding session: %w", err)
	}

	if session.ExpiresAt, err = parseTS(expiresAt); err != nil {
		return nil, err
	}
	if session.CreatedAt, err = parseTS(createdAt); err != nil {
		return nil, err
	}
	if session.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return nil, err
	}
	return &session, nil
}

// Update はセッション本文と有効期限を上書きする。
func (r *SQLiteSessionRepo) Update(ctx context.Context, session *model.StoredSession) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE onboarding_sessions
		 SET data = ?, expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		session.Data, ts(session.ExpiresAt), ts(session.UpdatedAt), session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update onboarding session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired はnow時点で期限切れのセッションを削除する。
func (r *SQLiteSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM onboarding_sessions WHERE expires_at <= ?`,
		ts(now),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired onboarding sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ OnboardingSessionRepository = (*SQLiteSessionRepo)(nil)
