package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/denverlabs/cococrm/internal/models"
)

type TaskRepository struct {
	db Querier
}

func NewTaskRepository(db Querier) *TaskRepository {
	return &TaskRepository{db: db}
}

// ListByUser returns open tasks first, then by due date.
func (r *TaskRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, title, description, priority, due_date, completed, created_at
		FROM tasks WHERE user_id = $1
		ORDER BY completed ASC, due_date ASC NULLS LAST, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		var (
			t           models.Task
			description sql.NullString
			due         sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &description, &t.Priority, &due, &t.Completed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Description = description.String
		if due.Valid {
			d := due.Time
			t.DueDate = &d
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *TaskRepository) Create(ctx context.Context, t *models.Task) error {
	var due sql.NullTime
	if t.DueDate != nil {
		due = sql.NullTime{Time: *t.DueDate, Valid: true}
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO tasks (user_id, title, description, priority, due_date, completed)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		t.UserID, t.Title, nullString(t.Description), t.Priority, due, t.Completed,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", mapError(err))
	}
	return nil
}
