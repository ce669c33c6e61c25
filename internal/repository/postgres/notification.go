package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"qatmarket/internal/domain"
	"qatmarket/pkg/errors"
)

type NotificationRepository struct {
	db DBTX
}

func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Insert stores n and sets its seq. A repeated event id yields errors.ErrDuplicate
// without aborting the surrounding transaction.
func (r *NotificationRepository) Insert(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (
			id, event_id, user_id, kind, title, body, payload, is_read, committed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING seq
	`
	err := r.db.QueryRowxContext(ctx, query,
		n.ID, n.EventID, n.UserID, n.Kind, n.Title, n.Body, string(n.Payload), n.IsRead, n.CommittedAt, n.CreatedAt,
	).Scan(&n.Seq)
	if err == sql.ErrNoRows {
		return errors.ErrDuplicate
	}
	return classify(err, "failed to insert notification")
}

func (r *NotificationRepository) ListUnread(ctx context.Context, userID uuid.UUID, afterSeq int64, limit int) ([]*domain.Notification, error) {
	var out []*domain.Notification
	query := `
		SELECT * FROM notifications
		WHERE user_id = $1 AND is_read = FALSE AND seq > $2
		ORDER BY seq
		LIMIT $3
	`
	if err := r.db.SelectContext(ctx, &out, query, userID, afterSeq, limit); err != nil {
		return nil, classify(err, "failed to list unread notifications")
	}
	return out, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, userID uuid.UUID, throughSeq int64) (int64, error) {
	query := `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE AND seq <= $2`
	res, err := r.db.ExecContext(ctx, query, userID, throughSeq)
	if err != nil {
		return 0, classify(err, "failed to mark notifications read")
	}
	return res.RowsAffected()
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`
	err := r.db.GetContext(ctx, &n, query, userID)
	return n, classify(err, "failed to count unread notifications")
}
