package persistence

import (
	"context"
	"database/sql"
	"time"

	"mailsync_server/core/port/out"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// TokenAdapter - stored provider OAuth credentials
// =============================================================================

type TokenAdapter struct {
	db *sqlx.DB
}

func NewTokenAdapter(db *sqlx.DB) *TokenAdapter {
	return &TokenAdapter{db: db}
}

type oauthTokenEntity struct {
	UserID       string         `db:"user_id"`
	AccessToken  string         `db:"access_token"`
	RefreshToken sql.NullString `db:"refresh_token"`
	ExpiresAt    sql.NullTime   `db:"expires_at"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (e *oauthTokenEntity) toRecord() *out.TokenRecord {
	record := &out.TokenRecord{
		UserID:      e.UserID,
		AccessToken: e.AccessToken,
	}
	if e.RefreshToken.Valid {
		record.RefreshToken = e.RefreshToken.String
	}
	if e.ExpiresAt.Valid {
		record.Expiry = e.ExpiresAt.Time.Unix()
	}
	return record
}

func (a *TokenAdapter) Get(ctx context.Context, userID string) (*out.TokenRecord, error) {
	var entity oauthTokenEntity
	query := `SELECT * FROM oauth_tokens WHERE user_id = $1`
	if err := a.db.GetContext(ctx, &entity, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return entity.toRecord(), nil
}

func (a *TokenAdapter) Save(ctx context.Context, record *out.TokenRecord) error {
	query := `
		INSERT INTO oauth_tokens (user_id, access_token, refresh_token, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`
	var expiresAt interface{}
	if record.Expiry > 0 {
		expiresAt = time.Unix(record.Expiry, 0)
	}

	_, err := a.db.ExecContext(ctx, query,
		record.UserID,
		record.AccessToken,
		toNullableString(record.RefreshToken),
		expiresAt,
	)
	return err
}

var _ out.TokenRepository = (*TokenAdapter)(nil)
