package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/denverlabs/cococrm/internal/apperror"
	"github.com/denverlabs/cococrm/internal/models"
	"github.com/denverlabs/cococrm/internal/repository"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// CRMService owns contact, deal and task writes. Every create also
// writes an activity row in the same transaction.
type CRMService struct {
	db *sql.DB
}

func NewCRMService(db *sql.DB) *CRMService {
	return &CRMService{db: db}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func (s *CRMService) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *CRMService) ListContacts(ctx context.Context, userID int64, limit int) ([]models.Contact, error) {
	return repository.NewContactRepository(s.db).ListByUser(ctx, userID, clampLimit(limit))
}

func (s *CRMService) ListDeals(ctx context.Context, userID int64, limit int) ([]models.Deal, error) {
	return repository.NewDealRepository(s.db).ListByUser(ctx, userID, clampLimit(limit))
}

func (s *CRMService) ListTasks(ctx context.Context, userID int64, limit int) ([]models.Task, error) {
	return repository.NewTaskRepository(s.db).ListByUser(ctx, userID, clampLimit(limit))
}

func (s *CRMService) RecentActivities(ctx context.Context, userID int64, limit int) ([]models.Activity, error) {
	return repository.NewActivityRepository(s.db).Recent(ctx, userID, clampLimit(limit))
}

func (s *CRMService) CreateContact(ctx context.Context, c *models.Contact) error {
	if err := ValidateContact(c); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := repository.NewContactRepository(tx).Create(ctx, c); err != nil {
			return err
		}
		return repository.NewActivityRepository(tx).Create(ctx, &models.Activity{
			UserID:      c.UserID,
			Kind:        "contact_created",
			Description: "Added contact " + c.Name,
			ContactID:   &c.ID,
		})
	})
}

func (s *CRMService) CreateDeal(ctx context.Context, d *models.Deal) error {
	if err := ValidateDeal(d); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if d.ContactID != nil {
			ok, err := repository.NewContactRepository(tx).Owned(ctx, d.UserID, *d.ContactID)
			if err != nil {
				return err
			}
			if !ok {
				return apperror.New(apperror.NotFound, "Contact not found")
			}
		}
		if err := repository.NewDealRepository(tx).Create(ctx, d); err != nil {
			return err
		}
		return repository.NewActivityRepository(tx).Create(ctx, &models.Activity{
			UserID:      d.UserID,
			Kind:        "deal_created",
			Description: fmt.Sprintf("Created deal %s (%s)", d.Title, d.Stage),
			ContactID:   d.ContactID,
			DealID:      &d.ID,
		})
	})
}

func (s *CRMService) CreateTask(ctx context.Context, t *models.Task) error {
	if err := ValidateTask(t); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := repository.NewTaskRepository(tx).Create(ctx, t); err != nil {
			return err
		}
		return repository.NewActivityRepository(tx).Create(ctx, &models.Activity{
			UserID:      t.UserID,
			Kind:        "task_created",
			Description: "Created task " + t.Title,
		})
	})
}

// ValidateContact trims fields and requires a name.
func ValidateContact(c *models.Contact) error {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	if c.Name == "" {
		return &apperror.Error{Kind: apperror.Validation, Public: "Name is required", Field: "name"}
	}
	return nil
}

// ValidateDeal requires a title, a known stage (default lead) and a
// non-negative value.
func ValidateDeal(d *models.Deal) error {
	d.Title = strings.TrimSpace(d.Title)
	d.Stage = strings.ToLower(strings.TrimSpace(d.Stage))
	if d.Title == "" {
		return &apperror.Error{Kind: apperror.Validation, Public: "Title is required", Field: "title"}
	}
	if d.Stage == "" {
		d.Stage = models.StageLead
	}
	valid := false
	for _, st := range models.DealStages {
		if d.Stage == st {
			valid = true
			break
		}
	}
	if !valid {
		return &apperror.Error{Kind: apperror.Validation, Public: "Unknown deal stage", Field: "stage"}
	}
	if d.Value < 0 {
		return &apperror.Error{Kind: apperror.Validation, Public: "Value must not be negative", Field: "value"}
	}
	return nil
}

// ValidateTask requires a title and a known priority (default medium).
func ValidateTask(t *models.Task) error {
	t.Title = strings.TrimSpace(t.Title)
	t.Priority = strings.ToLower(strings.TrimSpace(t.Priority))
	if t.Title == "" {
		return &apperror.Error{Kind: apperror.Validation, Public: "Title is required", Field: "title"}
	}
	switch t.Priority {
	case "":
		t.Priority = models.PriorityMedium
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
	default:
		return &apperror.Error{Kind: apperror.Validation, Public: "Unknown task priority", Field: "priority"}
	}
	return nil
}
