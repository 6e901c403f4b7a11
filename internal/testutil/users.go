// Package testutil holds in-memory stand-ins for the Postgres and Redis
// backed stores, for use in tests.
package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/denverlabs/cococrm/internal/models"
	"github.com/denverlabs/cococrm/internal/repository"
)

// UserStore is an in-memory credential store with the same uniqueness
// rules as the users table.
type UserStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*models.User
	now    func() time.Time

	// Calls counts Create calls, successful or not.
	Calls int
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[int64]*models.User), now: time.Now}
}

func clone(u *models.User) *models.User {
	c := *u
	if u.TelegramID != nil {
		id := *u.TelegramID
		c.TelegramID = &id
	}
	return &c
}

func (s *UserStore) find(match func(*models.User) bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			return clone(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *UserStore) GetByID(_ context.Context, id int64) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.ID == id })
}

func (s *UserStore) GetByUsername(_ context.Context, username string) (*models.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	return s.find(func(u *models.User) bool { return strings.ToLower(u.Username) == username })
}

func (s *UserStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	if _, err := s.GetByUsername(ctx, username); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *UserStore) GetByTelegramID(_ context.Context, telegramID int64) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.TelegramID != nil && *u.TelegramID == telegramID })
}

func (s *UserStore) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++

	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return repository.ErrUsernameTaken
		}
		if u.Email != "" && strings.EqualFold(existing.Email, u.Email) {
			return repository.ErrEmailTaken
		}
		if u.TelegramID != nil && existing.TelegramID != nil && *u.TelegramID == *existing.TelegramID {
			return repository.ErrTelegramIDTaken
		}
	}

	s.nextID++
	u.ID = s.nextID
	u.CreatedAt = s.now()
	s.users[u.ID] = clone(u)
	return nil
}

func (s *UserStore) UpdateTelegramProfile(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.TelegramUsername = u.TelegramUsername
	existing.FirstName = u.FirstName
	existing.LastName = u.LastName
	existing.PhotoURL = u.PhotoURL
	return nil
}

// Len returns the number of stored users.
func (s *UserStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Snapshot returns copies of all users, for before/after comparisons.
func (s *UserStore) Snapshot() map[int64]models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]models.User, len(s.users))
	for id, u := range s.users {
		out[id] = *clone(u)
	}
	return out
}

// Add stores u directly, bypassing uniqueness checks. Returns u with ID set.
func (s *UserStore) Add(u models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u.ID = s.nextID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = clone(&u)
	return clone(&u)
}
