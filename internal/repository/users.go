package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/denverlabs/cococrm/internal/models"
	"github.com/denverlabs/cococrm/pkg/utils"
)

const userColumns = `id, username, email, password_hash, telegram_id, telegram_username,
	first_name, last_name, photo_url, is_service, created_at`

// UserRepository is the credential store. Usernames and emails are
// compared case-insensitively.
type UserRepository struct {
	db Querier
}

func NewUserRepository(db Querier) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u          models.User
		email      sql.NullString
		hash       sql.NullString
		telegramID sql.NullInt64
		tgUsername sql.NullString
		firstName  sql.NullString
		lastName   sql.NullString
		photoURL   sql.NullString
	)
	err := row.Scan(&u.ID, &u.Username, &email, &hash, &telegramID, &tgUsername,
		&firstName, &lastName, &photoURL, &u.IsService, &u.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	u.Email = email.String
	u.PasswordHash = hash.String
	u.TelegramID = int64Ptr(telegramID)
	u.TelegramUsername = tgUsername.String
	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.PhotoURL = photoURL.String
	return &u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(username) = $1`,
		utils.NormalizeUsername(username))
	return scanUser(row)
}

func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
	return scanUser(row)
}

// UsernameExists reports whether username is taken, ignoring case.
func (r *UserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(username) = $1)`,
		utils.NormalizeUsername(username)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return exists, nil
}

// Create inserts u and fills in ID and CreatedAt. Unique violations are
// reported as ErrUsernameTaken, ErrEmailTaken or ErrTelegramIDTaken.
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, telegram_id, telegram_username,
			first_name, last_name, photo_url, is_service)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		u.Username, nullString(u.Email), nullString(u.PasswordHash), nullInt64(u.TelegramID),
		nullString(u.TelegramUsername), nullString(u.FirstName), nullString(u.LastName),
		nullString(u.PhotoURL), u.IsService,
	).Scan(&u.ID, &u.CreatedAt)
	return mapError(err)
}

// UpdateTelegramProfile refreshes the Telegram-reported profile fields.
func (r *UserRepository) UpdateTelegramProfile(ctx context.Context, u *models.User) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET telegram_username = $2, first_name = $3, last_name = $4, photo_url = $5
		WHERE id = $1`,
		u.ID, nullString(u.TelegramUsername), nullString(u.FirstName),
		nullString(u.LastName), nullString(u.PhotoURL))
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPassword replaces the password digest. Used by the admin CLI.
func (r *UserRepository) SetPassword(ctx context.Context, id int64, digest string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, nullString(digest))
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of users.
func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
