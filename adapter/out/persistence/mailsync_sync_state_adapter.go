package persistence

import (
	"context"
	"database/sql"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// SyncStateAdapter - per-user sync state rows
// =============================================================================

type SyncStateAdapter struct {
	db *sqlx.DB
}

func NewSyncStateAdapter(db *sqlx.DB) *SyncStateAdapter {
	return &SyncStateAdapter{db: db}
}

// =============================================================================
// Entity
// =============================================================================

type syncStateEntity struct {
	UserID            string         `db:"user_id"`
	SyncInProgress    bool           `db:"sync_in_progress"`
	IsInitialSyncing  bool           `db:"is_initial_syncing"`
	ContinuationToken sql.NullString `db:"continuation_token"`
	TotalSynced       int64          `db:"total_synced"`
	LastSyncCount     int            `db:"last_sync_count"`
	LastSyncAt        sql.NullTime   `db:"last_sync_at"`
	LastError         sql.NullString `db:"last_error"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (e *syncStateEntity) toDomain() *domain.SyncState {
	state := &domain.SyncState{
		UserID:           e.UserID,
		SyncInProgress:   e.SyncInProgress,
		IsInitialSyncing: e.IsInitialSyncing,
		TotalSynced:      e.TotalSynced,
		LastSyncCount:    e.LastSyncCount,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}

	if e.ContinuationToken.Valid {
		state.ContinuationToken = e.ContinuationToken.String
	}
	if e.LastSyncAt.Valid {
		state.LastSyncAt = e.LastSyncAt.Time
	}
	if e.LastError.Valid {
		state.LastError = e.LastError.String
	}

	return state
}

// =============================================================================
// Reads
// =============================================================================

func (a *SyncStateAdapter) GetOrCreate(ctx context.Context, userID string) (*domain.SyncState, error) {
	insert := `
		INSERT INTO sync_states (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := a.db.ExecContext(ctx, insert, userID); err != nil {
		return nil, err
	}
	return a.Get(ctx, userID)
}

func (a *SyncStateAdapter) Get(ctx context.Context, userID string) (*domain.SyncState, error) {
	var entity syncStateEntity
	query := `SELECT * FROM sync_states WHERE user_id = $1`
	if err := a.db.GetContext(ctx, &entity, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *SyncStateAdapter) GetStuck(ctx context.Context, before time.Time) ([]*domain.SyncState, error) {
	var entities []syncStateEntity
	query := `
		SELECT * FROM sync_states
		WHERE sync_in_progress = TRUE
		  AND updated_at < $1
		ORDER BY updated_at ASC
	`
	if err := a.db.SelectContext(ctx, &entities, query, before); err != nil {
		return nil, err
	}

	states := make([]*domain.SyncState, len(entities))
	for i, e := range entities {
		states[i] = e.toDomain()
	}
	return states, nil
}

// =============================================================================
// State transitions
// =============================================================================

// TryBeginSync is the per-user mutex: the conditional UPDATE only matches
// when the flag is clear, so exactly one concurrent caller wins.
func (a *SyncStateAdapter) TryBeginSync(ctx context.Context, userID string, isInitial bool) (bool, error) {
	query := `
		UPDATE sync_states SET
			sync_in_progress = TRUE,
			is_initial_syncing = $2,
			last_error = NULL,
			updated_at = NOW()
		WHERE user_id = $1
		  AND sync_in_progress = FALSE
	`
	result, err := a.db.ExecContext(ctx, query, userID, isInitial)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// SaveProgress records a page's outcome. The continuation token is a crawl
// checkpoint: an empty token leaves the stored one alone, clearing happens
// only through ClearContinuation.
func (a *SyncStateAdapter) SaveProgress(ctx context.Context, userID, continuationToken string, syncedCount int) error {
	query := `
		UPDATE sync_states SET
			continuation_token = COALESCE(NULLIF($2, ''), continuation_token),
			total_synced = total_synced + $3,
			last_sync_count = $3,
			last_sync_at = NOW(),
			updated_at = NOW()
		WHERE user_id = $1
	`
	_, err := a.db.ExecContext(ctx, query, userID, continuationToken, syncedCount)
	return err
}

// FinishSync releases the slot. The continuation token is left untouched: a
// surviving token marks an unfinished crawl, so the next full sync knows to
// page the whole mailbox again.
func (a *SyncStateAdapter) FinishSync(ctx context.Context, userID, lastError string) error {
	query := `
		UPDATE sync_states SET
			sync_in_progress = FALSE,
			is_initial_syncing = FALSE,
			last_error = $2,
			updated_at = NOW()
		WHERE user_id = $1
	`
	_, err := a.db.ExecContext(ctx, query, userID, toNullableString(lastError))
	return err
}

func (a *SyncStateAdapter) ClearContinuation(ctx context.Context, userID string) error {
	query := `
		UPDATE sync_states SET
			continuation_token = NULL,
			updated_at = NOW()
		WHERE user_id = $1
	`
	_, err := a.db.ExecContext(ctx, query, userID)
	return err
}

func (a *SyncStateAdapter) Reset(ctx context.Context, userID string) error {
	query := `
		UPDATE sync_states SET
			sync_in_progress = FALSE,
			is_initial_syncing = FALSE,
			continuation_token = NULL,
			last_error = NULL,
			updated_at = NOW()
		WHERE user_id = $1
	`
	_, err := a.db.ExecContext(ctx, query, userID)
	return err
}

var _ out.SyncStateRepository = (*SyncStateAdapter)(nil)

// =============================================================================
// Helper functions
// =============================================================================

func toNullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func toNullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
