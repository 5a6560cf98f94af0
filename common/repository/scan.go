package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/secbot-io/secbot/common/db"
	"github.com/secbot-io/secbot/common/models"
	"github.com/secbot-io/secbot/common/secerr"
)

// ScanRepository handles database operations for security scans
type ScanRepository struct {
	db *db.DB
}

// NewScanRepository creates a new scan repository
func NewScanRepository(database *db.DB) *ScanRepository {
	return &ScanRepository{db: database}
}

const scanColumns = `id, check_id, scan_name, status, started_at, finished_at, response, outputs_test_id, created_at`

// GetByID retrieves a scan by id
func (r *ScanRepository) GetByID(ctx context.Context, scanID int64) (*models.Scan, error) {
	query := `
		SELECT ` + scanColumns + `
		FROM security_scan
		WHERE id = $1
	`

	scan, err := scanScan(r.db.QueryRow(ctx, query, scanID))
	if err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}
	return scan, nil
}

// Get retrieves a scan by its (check_id, scan_name) identity. Returns
// (nil, nil) when no scan exists.
func (r *ScanRepository) Get(ctx context.Context, checkID int64, scanName string) (*models.Scan, error) {
	query := `
		SELECT ` + scanColumns + `
		FROM security_scan
		WHERE check_id = $1 AND scan_name = $2
	`

	scan, err := scanScan(r.db.QueryRow(ctx, query, checkID, scanName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}
	return scan, nil
}

// ListByCheck retrieves all scans of a check
func (r *ScanRepository) ListByCheck(ctx context.Context, checkID int64) ([]*models.Scan, error) {
	query := `
		SELECT ` + scanColumns + `
		FROM security_scan
		WHERE check_id = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, checkID)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var scans []*models.Scan
	for rows.Next() {
		scan, err := scanScan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		scans = append(scans, scan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}

	return scans, nil
}

// Start upserts the scan row and advances it to IN_PROGRESS. Only NEW and
// ERROR scans may start; the conditional update is the concurrency guard
// against duplicate concurrent scans of the same (check, scan_name).
func (r *ScanRepository) Start(ctx context.Context, checkID int64, scanName string) (*models.Scan, error) {
	insert := `
		INSERT INTO security_scan (check_id, scan_name)
		VALUES ($1, $2)
		ON CONFLICT (check_id, scan_name) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, insert, checkID, scanName); err != nil {
		return nil, fmt.Errorf("upsert scan: %w", err)
	}

	update := `
		UPDATE security_scan
		SET status = 'in_progress', started_at = now()
		WHERE check_id = $1 AND scan_name = $2 AND status IN ('new', 'error')
		RETURNING ` + scanColumns + `
	`

	scan, err := scanScan(r.db.QueryRow(ctx, update, checkID, scanName))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := r.Get(ctx, checkID, scanName)
		if getErr != nil {
			return nil, getErr
		}
		status := models.ScanStatus("missing")
		if existing != nil {
			status = existing.Status
		}
		return nil, secerr.Newf(secerr.KindScanCantBeScanned, "scan can't be scanned: reason=%s", status)
	}
	if err != nil {
		return nil, fmt.Errorf("start scan: %w", err)
	}
	return scan, nil
}

// Complete records the external test identifier under the output component
// name, marks the scan DONE and stamps finished_at. Repeated completions
// for different outputs merge per key; the same key is last-write-wins.
func (r *ScanRepository) Complete(ctx context.Context, scanID int64, outputComponentName string, externalTestID any) error {
	entry, err := json.Marshal(map[string]any{outputComponentName: externalTestID})
	if err != nil {
		return fmt.Errorf("encode test id entry: %w", err)
	}

	query := `
		UPDATE security_scan
		SET outputs_test_id = COALESCE(outputs_test_id, '{}'::jsonb) || $2::jsonb,
		    status = 'done',
		    finished_at = now()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, scanID, entry)
	if err != nil {
		return fmt.Errorf("complete scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete scan: scan %d does not exist", scanID)
	}
	return nil
}

// SetResponse persists the raw scanner response on the scan row
func (r *ScanRepository) SetResponse(ctx context.Context, scanID int64, response json.RawMessage) error {
	query := `
		UPDATE security_scan
		SET response = $2
		WHERE id = $1
	`

	if _, err := r.db.Exec(ctx, query, scanID, response); err != nil {
		return fmt.Errorf("set scan response: %w", err)
	}
	return nil
}

// HandleFailure records a task failure against the scan row: SKIP for a
// benign skip, ERROR otherwise. If the row does not exist yet the failure
// happened pre-row; the original error is rethrown so the broker marks
// the task failed.
func (r *ScanRepository) HandleFailure(ctx context.Context, checkID int64, scanName string, cause error) error {
	status := models.ScanError
	if secerr.Is(cause, secerr.KindScanSkipped) {
		status = models.ScanSkip
	}

	query := `
		UPDATE security_scan
		SET status = $3
		WHERE check_id = $1 AND scan_name = $2
	`

	tag, err := r.db.Exec(ctx, query, checkID, scanName, status)
	if err != nil {
		return fmt.Errorf("record scan failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cause
	}
	return nil
}

func scanScan(row pgx.Row) (*models.Scan, error) {
	scan := &models.Scan{}
	var response []byte
	err := row.Scan(
		&scan.ID,
		&scan.CheckID,
		&scan.ScanName,
		&scan.Status,
		&scan.StartedAt,
		&scan.FinishedAt,
		&response,
		&scan.OutputsTestID,
		&scan.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	scan.Response = response
	return scan, nil
}
