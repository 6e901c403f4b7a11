package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/denverlabs/cococrm/internal/apperror"
	"github.com/denverlabs/cococrm/internal/logger"
	"github.com/denverlabs/cococrm/internal/models"
	"github.com/denverlabs/cococrm/internal/repository"
	"github.com/denverlabs/cococrm/pkg/utils"
)

var (
	ErrInvalidCredentials = apperror.New(apperror.Unauthenticated, "Invalid username or password")
	ErrInvalidTelegram    = apperror.New(apperror.Unauthenticated, "Telegram authentication failed")
	ErrInvalidAPIKey      = apperror.New(apperror.Unauthenticated, "Invalid API key")
	ErrInvalidLoginLink   = apperror.New(apperror.Unauthenticated, "Login link is invalid or has expired")
	ErrUserNotFound       = apperror.New(apperror.NotFound, "User not found")
	ErrUsernameTaken      = apperror.New(apperror.Conflict, "Username is already taken")
	ErrEmailTaken         = apperror.New(apperror.Conflict, "Email is already registered")
)

// UserStore is the credential store the resolver reads and writes.
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, u *models.User) error
	UpdateTelegramProfile(ctx context.Context, u *models.User) error
}

// Resolution is the outcome of a successful Resolve.
type Resolution struct {
	User    *models.User
	Created bool
	Method  Method
}

// CreateHook is called after a user is auto-created.
type CreateHook func(ctx context.Context, u *models.User, method Method)

// Resolver maps credentials to users, creating Telegram and service
// identities on first contact.
type Resolver struct {
	users    UserStore
	telegram *TelegramVerifier
	tokens   *TokenService
	apiKey   string
	onCreate []CreateHook
}

type ResolverOption func(*Resolver)

// WithCreateHook registers fn to run after auto-creation.
func WithCreateHook(fn CreateHook) ResolverOption {
	return func(r *Resolver) { r.onCreate = append(r.onCreate, fn) }
}

// NewResolver wires the resolver. An empty apiKey rejects every service
// credential.
func NewResolver(users UserStore, telegram *TelegramVerifier, tokens *TokenService, apiKey string, opts ...ResolverOption) *Resolver {
	r := &Resolver{users: users, telegram: telegram, tokens: tokens, apiKey: apiKey}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve maps cred to a user.
func (r *Resolver) Resolve(ctx context.Context, cred Credential) (*Resolution, error) {
	switch c := cred.(type) {
	case PasswordCredential:
		return r.resolvePassword(ctx, c)
	case TelegramCredential:
		return r.resolveTelegram(ctx, c)
	case ServiceCredential:
		return r.resolveService(ctx, c)
	case TokenCredential:
		return r.resolveToken(ctx, c)
	default:
		return nil, apperror.Wrap(apperror.Internal, "", fmt.Errorf("unsupported credential %T", cred))
	}
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnPasswordCheck spends the same work as a real check so unknown
// usernames are not distinguishable by timing.
func burnPasswordCheck(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = utils.HashPassword("not-a-real-password")
	})
	utils.CheckPassword(dummyHash, password)
}

func (r *Resolver) resolvePassword(ctx context.Context, c PasswordCredential) (*Resolution, error) {
	if strings.TrimSpace(c.Username) == "" || c.Password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := r.users.GetByUsername(ctx, c.Username)
	if errors.Is(err, repository.ErrNotFound) {
		burnPasswordCheck(c.Password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "", fmt.Errorf("lookup username: %w", err))
	}
	if !utils.CheckPassword(u.PasswordHash, c.Password) {
		return nil, ErrInvalidCredentials
	}
	return &Resolution{User: u, Method: MethodPassword}, nil
}

func (r *Resolver) resolveTelegram(ctx context.Context, c TelegramCredential) (*Resolution, error) {
	if err := r.telegram.Check(c.Payload); err != nil {
		logger.Info("telegram login rejected", zap.Error(err))
		return nil, ErrInvalidTelegram
	}
	profile, err := c.Payload.Profile()
	if err != nil {
		logger.Info("telegram login rejected", zap.Error(err))
		return nil, ErrInvalidTelegram
	}
	u, created, err := r.FindOrCreateTelegram(ctx, profile, false)
	if err != nil {
		return nil, err
	}
	return &Resolution{User: u, Created: created, Method: MethodTelegram}, nil
}

func (r *Resolver) resolveService(ctx context.Context, c ServiceCredential) (*Resolution, error) {
	if !r.CheckAPIKey(c.APIKey) {
		return nil, ErrInvalidAPIKey
	}
	username := strings.TrimPrefix(strings.TrimSpace(c.Username), "@")
	if c.TelegramID == nil && username == "" {
		return nil, apperror.New(apperror.Validation, "telegram_id or username is required")
	}

	if c.TelegramID != nil {
		u, err := r.users.GetByTelegramID(ctx, *c.TelegramID)
		switch {
		case err == nil:
			return &Resolution{User: u, Method: MethodService}, nil
		case !errors.Is(err, repository.ErrNotFound):
			return nil, apperror.Wrap(apperror.Internal, "", fmt.Errorf("lookup telegram id: %w", err))
		}
	}

	if username != "" {
		u, err := r.users.GetByUsername(ctx, username)
		switch {
		case err == nil:
			return &Resolution{User: u, Method: MethodService}, nil
		case !errors.Is(err, repository.ErrNotFound):
			return nil, apperror.Wrap(apperror.Internal, "", fmt.Errorf("lookup username: %w", err))
		}
	}

	if c.TelegramID == nil {
		return nil, ErrUserNotFound
	}
	u, created, err := r.FindOrCreateTelegram(ctx, models.TelegramProfile{
		ID:        *c.TelegramID,
		Username:  username,
		FirstName: c.FirstName,
	}, true)
	if err != nil {
		return nil, err
	}
	return &Resolution{User: u, Created: created, Method: MethodService}, nil
}

func (r *Resolver) resolveToken(ctx context.Context, c TokenCredential) (*Resolution, error) {
	if r.tokens == nil {
		return nil, ErrInvalidLoginLink
	}
	claims, err := r.tokens.Redeem(ctx, c.Token)
	if errors.Is(err, ErrInvalidToken) {
		return nil, ErrInvalidLoginLink
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "", err)
	}
	u, err := r.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("temp token for missing user", zap.Int64("user_id", claims.UserID))
		return nil, ErrInvalidLoginLink
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "", fmt.Errorf("lookup user: %w", err))
	}
	return &Resolution{User: u, Method: MethodToken}, nil
}

// CheckAPIKey compares key with the configured key in constant time.
func (r *Resolver) CheckAPIKey(key string) bool {
	if r.apiKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(r.apiKey)) == 1
}

// FindOrCreateTelegram returns the user linked to profile.ID, creating
// one when absent. The new username is the Telegram handle (or
// user_<id>); if taken, <base>_<id>; if that is taken too the call fails
// with a conflict rather than touching the existing account.
func (r *Resolver) FindOrCreateTelegram(ctx context.Context, profile models.TelegramProfile, service bool) (*models.User, bool, error) {
	if profile.ID <= 0 {
		return nil, false, apperror.New(apperror.Validation, "telegram_id is required")
	}

	existing, err := r.users.GetByTelegramID(ctx, profile.ID)
	if err == nil {
		r.refreshProfile(ctx, existing, profile)
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, apperror.Wrap(apperror.Internal, "", fmt.Errorf("lookup telegram id: %w", err))
	}

	base := utils.TelegramUsername(profile.Username, profile.ID)
	for _, candidate := range []string{base, utils.SuffixUsername(base, profile.ID)} {
		u := &models.User{
			Username:         candidate,
			TelegramID:       &profile.ID,
			TelegramUsername: profile.Username,
			FirstName:        profile.FirstName,
			LastName:         profile.LastName,
			PhotoURL:         profile.PhotoURL,
			IsService:        service,
		}
		err := r.users.Create(ctx, u)
		switch {
		case err == nil:
			method := MethodTelegram
			if service {
				method = MethodService
			}
			logger.Info("user created from telegram",
				zap.Int64("user_id", u.ID), zap.String("username", u.Username), zap.Bool("service", service))
			for _, hook := range r.onCreate {
				hook(ctx, u, method)
			}
			return u, true, nil
		case errors.Is(err, repository.ErrUsernameTaken):
			continue
		case errors.Is(err, repository.ErrTelegramIDTaken):
			// Lost a race with a concurrent first login.
			u, err := r.users.GetByTelegramID(ctx, profile.ID)
			if err != nil {
				return nil, false, apperror.Wrap(apperror.Internal, "", fmt.Errorf("reload telegram user: %w", err))
			}
			return u, false, nil
		default:
			return nil, false, apperror.Wrap(apperror.Internal, "", fmt.Errorf("create telegram user: %w", err))
		}
	}
	return nil, false, apperror.Wrap(apperror.Conflict, "Could not assign a username for this Telegram account",
		fmt.Errorf("usernames %q and %q both taken", base, utils.SuffixUsername(base, profile.ID)))
}

func (r *Resolver) refreshProfile(ctx context.Context, u *models.User, p models.TelegramProfile) {
	changed := false
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&u.TelegramUsername, p.Username},
		{&u.FirstName, p.FirstName},
		{&u.LastName, p.LastName},
		{&u.PhotoURL, p.PhotoURL},
	} {
		if f.src != "" && *f.dst != f.src {
			*f.dst = f.src
			changed = true
		}
	}
	if !changed {
		return
	}
	if err := r.users.UpdateTelegramProfile(ctx, u); err != nil {
		logger.Warn("refresh telegram profile", zap.Int64("user_id", u.ID), zap.Error(err))
	}
}

// RegisterInput is a local registration form.
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Register creates a password account. Validation and conflict failures
// leave the store untouched.
func (r *Resolver) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if err := utils.ValidateUsername(in.Username); err != nil {
		return nil, validationError(err)
	}
	if err := utils.ValidateEmail(in.Email); err != nil {
		return nil, validationError(err)
	}
	if err := utils.ValidatePassword(in.Password, in.ConfirmPassword); err != nil {
		return nil, validationError(err)
	}

	username := utils.NormalizeUsername(in.Username)
	taken, err := r.users.UsernameExists(ctx, username)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "", err)
	}
	if taken {
		return nil, ErrUsernameTaken
	}

	digest, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "", err)
	}
	u := &models.User{
		Username:     username,
		Email:        utils.NormalizeEmail(in.Email),
		PasswordHash: digest,
	}
	switch err := r.users.Create(ctx, u); {
	case err == nil:
		return u, nil
	case errors.Is(err, repository.ErrUsernameTaken):
		return nil, ErrUsernameTaken
	case errors.Is(err, repository.ErrEmailTaken):
		return nil, ErrEmailTaken
	default:
		return nil, apperror.Wrap(apperror.Internal, "", fmt.Errorf("create user: %w", err))
	}
}

func validationError(err error) error {
	var ve *utils.ValidationError
	if errors.As(err, &ve) {
		return &apperror.Error{Kind: apperror.Validation, Public: ve.Message, Field: ve.Field, Err: err}
	}
	return apperror.Wrap(apperror.Validation, "", err)
}
