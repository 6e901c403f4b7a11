package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/denverlabs/cococrm/internal/models"
)

type ContactRepository struct {
	db Querier
}

func NewContactRepository(db Querier) *ContactRepository {
	return &ContactRepository{db: db}
}

// ListByUser returns the user's contacts, newest first.
func (r *ContactRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, email, phone, company, position, tags, notes, created_at
		FROM contacts WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]models.Contact, 0)
	for rows.Next() {
		var c models.Contact
		var email, phone, company, position, tags, notes sql.NullString
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &email, &phone, &company, &position, &tags, &notes, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.Email, c.Phone, c.Company = email.String, phone.String, company.String
		c.Position, c.Tags, c.Notes = position.String, tags.String, notes.String
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// Create inserts c and fills in ID and CreatedAt.
func (r *ContactRepository) Create(ctx context.Context, c *models.Contact) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO contacts (user_id, name, email, phone, company, position, tags, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		c.UserID, c.Name, nullString(c.Email), nullString(c.Phone), nullString(c.Company),
		nullString(c.Position), nullString(c.Tags), nullString(c.Notes),
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create contact: %w", mapError(err))
	}
	return nil
}

// Owned reports whether contactID belongs to userID.
func (r *ContactRepository) Owned(ctx context.Context, userID, contactID int64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM contacts WHERE id = $1 AND user_id = $2)`,
		contactID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check contact owner: %w", err)
	}
	return ok, nil
}
