package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/RamXX/tminus-sub003/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したオンボーディングセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.StoredSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO onboarding_sessions (id, user_id, data, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.UserID, session.Data, session.ExpiresAt, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create onboarding session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合・期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.StoredSession, error) {
	session := &model.StoredSession{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, data, expires_at, created_at, updated_at
		 FROM onboarding_sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &session.UserID, &session.Data, &session.ExpiresAt, &session.CreatedAt, &session.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find onboarding session: %w", err)
	}

	return session, nil
}

// Update はセッション本文と有効期限を上書きする。
func (r *PostgresSessionRepo) Update(ctx context.Context, session *model.StoredSession) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE onboarding_sessions
		 SET data = $2, expires_at = $3, updated_at = $4
		 WHERE id = $1`,
		session.ID, session.Data, session.ExpiresAt, session.UpdatedAt,
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
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM onboarding_sessions WHERE expires_at <= $1`,
		now,
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
var _ OnboardingSessionRepository = (*PostgresSessionRepo)(nil)
