package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/denverlabs/cococrm/internal/models"
)

type ActivityRepository struct {
	db Querier
}

func NewActivityRepository(db Querier) *ActivityRepository {
	return &ActivityRepository{db: db}
}

func (r *ActivityRepository) Create(ctx context.Context, a *models.Activity) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO activities (user_id, kind, description, contact_id, deal_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		a.UserID, a.Kind, a.Description, nullInt64(a.ContactID), nullInt64(a.DealID),
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create activity: %w", mapError(err))
	}
	return nil
}

// Recent returns the latest activities for the dashboard.
func (r *ActivityRepository) Recent(ctx context.Context, userID int64, limit int) ([]models.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, kind, description, contact_id, deal_id, created_at
		FROM activities WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	activities := make([]models.Activity, 0)
	for rows.Next() {
		var (
			a               models.Activity
			contactID, deal sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Kind, &a.Description, &contactID, &deal, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.ContactID = int64Ptr(contactID)
		a.DealID = int64Ptr(deal)
		activities = append(activities, a)
	}
	return activities, rows.Err()
}
