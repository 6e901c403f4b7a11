package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/denverlabs/cococrm/internal/models"
)

type DealRepository struct {
	db Querier
}

func NewDealRepository(db Querier) *DealRepository {
	return &DealRepository{db: db}
}

func (r *DealRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Deal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, contact_id, title, value, stage, created_at
		FROM deals WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	defer rows.Close()

	deals := make([]models.Deal, 0)
	for rows.Next() {
		var (
			d         models.Deal
			contactID sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &d.UserID, &contactID, &d.Title, &d.Value, &d.Stage, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		d.ContactID = int64Ptr(contactID)
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

func (r *DealRepository) Create(ctx context.Context, d *models.Deal) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO deals (user_id, contact_id, title, value, stage)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		d.UserID, nullInt64(d.ContactID), d.Title, d.Value, d.Stage,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create deal: %w", mapError(err))
	}
	return nil
}
