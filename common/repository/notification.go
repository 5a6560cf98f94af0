package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/secbot-io/secbot/common/db"
	"github.com/secbot-io/secbot/common/models"
)

// NotificationRepository handles database operations for notifications
type NotificationRepository struct {
	db *db.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(database *db.DB) *NotificationRepository {
	return &NotificationRepository{db: database}
}

// SendFunc performs the external delivery of a notification payload
type SendFunc func(ctx context.Context, payload json.RawMessage) error

// DeliverOnce performs the guarded delivery of one payload to one channel.
// The (scan_id, channel) row is locked for the duration of the
// transaction; a committed is_sent=true row short-circuits. An unsent row
// keeps its originally stored payload across retries. is_sent flips only
// after the external send returns success, in the same transaction; a
// crash between send and commit re-enters this block on retry.
func (r *NotificationRepository) DeliverOnce(
	ctx context.Context,
	scanID int64,
	channel string,
	payload json.RawMessage,
	send SendFunc,
) error {
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		query := `
			SELECT id, payload, is_sent
			FROM security_notification
			WHERE scan_id = $1 AND channel = $2
			FOR UPDATE
		`

		var (
			notificationID int64
			storedPayload  []byte
			isSent         bool
		)
		err := tx.QueryRow(ctx, query, scanID, channel).Scan(&notificationID, &storedPayload, &isSent)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			insert := `
				INSERT INTO security_notification (scan_id, channel, payload)
				VALUES ($1, $2, $3)
				RETURNING id
			`
			if err := tx.QueryRow(ctx, insert, scanID, channel, payload).Scan(&notificationID); err != nil {
				return fmt.Errorf("insert notification: %w", err)
			}
			storedPayload = payload
		case err != nil:
			return fmt.Errorf("lock notification: %w", err)
		case isSent:
			return nil
		}

		if err := send(ctx, storedPayload); err != nil {
			return fmt.Errorf("send notification to %s: %w", channel, err)
		}

		update := `
			UPDATE security_notification
			SET is_sent = TRUE
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, update, notificationID); err != nil {
			return fmt.Errorf("mark notification sent: %w", err)
		}
		return nil
	})
}

// ListByScan retrieves all notifications of a scan
func (r *NotificationRepository) ListByScan(ctx context.Context, scanID int64) ([]*models.Notification, error) {
	query := `
		SELECT id, scan_id, channel, is_sent, payload, created_at
		FROM security_notification
		WHERE scan_id = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, scanID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var payload []byte
		if err := rows.Scan(&n.ID, &n.ScanID, &n.Channel, &n.IsSent, &payload, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		n.Payload = payload
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}

	return notifications, nil
}
