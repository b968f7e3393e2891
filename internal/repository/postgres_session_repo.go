package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/serifu/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したブラウザセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.BrowserSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO browser_sessions (id, email, refresh_token, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.Email, session.RefreshToken, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.BrowserSession, error) {
	session := &model.BrowserSession{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, refresh_token, expires_at, created_at
		 FROM browser_sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &session.Email, &session.RefreshToken, &session.ExpiresAt, &session.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return session, nil
}

// UpdateRefreshToken はトークンリフレッシュ後の新しいリフレッシュトークンを保存する。
func (r *PostgresSessionRepo) UpdateRefreshToken(ctx context.Context, id, refreshToken string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE browser_sessions SET refresh_token = $2 WHERE id = $1`,
		id, refreshToken,
	)
	if err != nil {
		return fmt.Errorf("failed to update refresh token: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM browser_sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM browser_sessions WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ BrowserSessionRepository = (*PostgresSessionRepo)(nil)
