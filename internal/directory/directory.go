package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"alumnet/internal/apperror"
	"alumnet/internal/logging"
	"alumnet/internal/models"
)

// Store is the durable user table.
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// Cache is an optional read-through cache in front of Store.
type Cache interface {
	BuildKeyByID(id int64) string
	BuildKeyByEmail(email string) string
	Get(ctx context.Context, key string) (*models.User, error)
	Set(ctx context.Context, key string, user *models.User, ttl time.Duration) error
}

// Directory resolves user identities for the messaging core and owns
// signup and password login.
type Directory struct {
	store Store
	cache Cache
	ttl   time.Duration
}

// New builds a Directory. cache may be nil.
func New(store Store, cache Cache, ttl time.Duration) *Directory {
	return &Directory{store: store, cache: cache, ttl: ttl}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (d *Directory) ByEmail(ctx context.Context, email string) (*models.User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, apperror.Validation("email is required")
	}
	return d.lookup(ctx, d.cacheKey(func(c Cache) string { return c.BuildKeyByEmail(email) }), func() (*models.User, error) {
		return d.store.GetUserByEmail(ctx, email)
	})
}

func (d *Directory) ByID(ctx context.Context, id int64) (*models.User, error) {
	if id <= 0 {
		return nil, apperror.Validation("user id must be positive")
	}
	return d.lookup(ctx, d.cacheKey(func(c Cache) string { return c.BuildKeyByID(id) }), func() (*models.User, error) {
		return d.store.GetUserByID(ctx, id)
	})
}

// DisplayName returns the user's full name, or an empty string when the
// user cannot be resolved.
func (d *Directory) DisplayName(ctx context.Context, id int64) string {
	user, err := d.ByID(ctx, id)
	if err != nil {
		return ""
	}
	return user.FullName
}

func (d *Directory) cacheKey(build func(Cache) string) string {
	if d.cache == nil {
		return ""
	}
	return build(d.cache)
}

// lookup reads through the cache. Cache failures fall back to the store.
func (d *Directory) lookup(ctx context.Context, key string, load func() (*models.User, error)) (*models.User, error) {
	logger := logging.Ctx(ctx)

	if key != "" {
		user, err := d.cache.Get(ctx, key)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			logger.Warn().Err(err).Str("key", key).Msg("user cache read failed")
		}
	}

	user, err := load()
	if err != nil {
		return nil, err
	}

	if key != "" {
		if err := d.cache.Set(ctx, key, user, d.ttl); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("user cache write failed")
		}
	}
	return user, nil
}

// Signup creates an alumni account with a bcrypt password hash.
func (d *Directory) Signup(ctx context.Context, req models.SignupRequest) (*models.User, error) {
	email := NormalizeEmail(req.Email)
	fullName := strings.TrimSpace(req.FullName)
	if email == "" || fullName == "" || req.Password == "" {
		return nil, apperror.Validation("full_name, email and password are required")
	}
	if !strings.Contains(email, "@") {
		return nil, apperror.Validation("email is malformed")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	user := &models.User{
		Email:        email,
		FullName:     fullName,
		PasswordHash: string(hash),
		Role:         models.RoleAlumni,
	}
	if err := d.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate checks a password login. Unknown email and wrong password
// are indistinguishable to the caller.
func (d *Directory) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := d.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if apperror.Is(err, apperror.CodeNotFound) {
			return nil, apperror.AuthInvalid(nil)
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperror.AuthInvalid(nil)
	}
	return user, nil
}
