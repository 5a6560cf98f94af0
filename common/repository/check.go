package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/secbot-io/secbot/common/db"
	"github.com/secbot-io/secbot/common/models"
)

// CheckRepository handles database operations for security checks
type CheckRepository struct {
	db *db.DB
}

// NewCheckRepository creates a new check repository
func NewCheckRepository(database *db.DB) *CheckRepository {
	return &CheckRepository{db: database}
}

const checkColumns = `id, external_id, event_type, event_json, commit_hash, branch, project_name, path, prefix, created_at`

// GetByExternalID retrieves a check by its external identifier. Returns
// (nil, nil) when no check exists.
func (r *CheckRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Check, error) {
	query := `
		SELECT ` + checkColumns + `
		FROM security_check
		WHERE external_id = $1
	`

	check, err := scanCheck(r.db.QueryRow(ctx, query, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get check by external id: %w", err)
	}
	return check, nil
}

// GetOrCreate inserts a check unless one already exists for the external
// id. Races between duplicate webhooks collide on the unique constraint;
// the loser re-reads the winner's row.
func (r *CheckRepository) GetOrCreate(ctx context.Context, check *models.Check) (*models.Check, error) {
	query := `
		INSERT INTO security_check (external_id, event_type, event_json, commit_hash, branch, project_name, path, prefix)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING ` + checkColumns + `
	`

	created, err := scanCheck(r.db.QueryRow(
		ctx,
		query,
		check.ExternalID,
		check.EventType,
		check.EventJSON,
		check.CommitHash,
		check.Branch,
		check.ProjectName,
		check.Path,
		check.Prefix,
	))
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("create check: %w", err)
	}

	// Conflict: another event created the row first.
	existing, err := r.GetByExternalID(ctx, check.ExternalID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("check %s vanished after conflict", check.ExternalID)
	}
	return existing, nil
}

func scanCheck(row pgx.Row) (*models.Check, error) {
	check := &models.Check{}
	err := row.Scan(
		&check.ID,
		&check.ExternalID,
		&check.EventType,
		&check.EventJSON,
		&check.CommitHash,
		&check.Branch,
		&check.ProjectName,
		&check.Path,
		&check.Prefix,
		&check.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return check, nil
}
