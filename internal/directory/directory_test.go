package directory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alumnet/internal/apperror"
	"alumnet/internal/db"
	"alumnet/internal/models"
)

func newStore(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "dir.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func newCache(t *testing.T) (*RedisUserCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := NewRedisUserCache(RedisConfig{Address: mr.Addr()}, "test:user")
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func TestSignupAndAuthenticate(t *testing.T) {
	dir := New(newStore(t), nil, time.Minute)
	ctx := context.Background()

	user, err := dir.Signup(ctx, models.SignupRequest{FullName: "Ada Lovelace", Email: " Ada@X.com ", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "ada@x.com", user.Email)
	assert.NotEqual(t, "pw", user.PasswordHash)

	_, err = dir.Signup(ctx, models.SignupRequest{FullName: "Again", Email: "ada@x.com", Password: "pw"})
	assert.True(t, apperror.Is(err, apperror.CodeConflict))

	_, err = dir.Signup(ctx, models.SignupRequest{Email: "b@x.com", Password: "pw"})
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	got, err := dir.Authenticate(ctx, "ADA@x.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = dir.Authenticate(ctx, "ada@x.com", "wrong")
	assert.True(t, apperror.Is(err, apperror.CodeAuthInvalid))
	_, err = dir.Authenticate(ctx, "nobody@x.com", "pw")
	assert.True(t, apperror.Is(err, apperror.CodeAuthInvalid))
}

func TestLookupWithoutCache(t *testing.T) {
	dir := New(newStore(t), nil, time.Minute)
	ctx := context.Background()

	user, err := dir.Signup(ctx, models.SignupRequest{FullName: "B", Email: "b@x.com", Password: "pw"})
	require.NoError(t, err)

	byEmail, err := dir.ByEmail(ctx, "B@x.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	byID, err := dir.ByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", byID.Email)
	assert.Equal(t, "B", dir.DisplayName(ctx, user.ID))
	assert.Equal(t, "", dir.DisplayName(ctx, 999))

	_, err = dir.ByEmail(ctx, "missing@x.com")
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
	_, err = dir.ByID(ctx, 0)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestLookupReadsThroughRedis(t *testing.T) {
	store := newStore(t)
	cache, mr := newCache(t)
	dir := New(store, cache, time.Minute)
	ctx := context.Background()

	user, err := dir.Signup(ctx, models.SignupRequest{FullName: "Cached", Email: "c@x.com", Password: "pw"})
	require.NoError(t, err)

	_, err = dir.ByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, mr.Exists(cache.BuildKeyByID(user.ID)))
	assert.Equal(t, time.Minute, mr.TTL(cache.BuildKeyByID(user.ID)))

	cached, err := cache.Get(ctx, cache.BuildKeyByID(user.ID))
	require.NoError(t, err)
	assert.Equal(t, "Cached", cached.FullName)
	assert.Empty(t, cached.PasswordHash)

	// Served from cache even after the row changes underneath.
	_, err = store.ExecContext(ctx, `UPDATE users SET full_name = 'Renamed' WHERE id = ?`, user.ID)
	require.NoError(t, err)
	again, err := dir.ByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cached", again.FullName)

	_, err = dir.ByEmail(ctx, "c@x.com")
	require.NoError(t, err)
	assert.True(t, mr.Exists(cache.BuildKeyByEmail("c@x.com")))
}

func TestCacheMissAndOutage(t *testing.T) {
	store := newStore(t)
	cache, mr := newCache(t)
	ctx := context.Background()

	_, err := cache.Get(ctx, cache.BuildKeyByID(1))
	assert.ErrorIs(t, err, ErrCacheMiss)

	dir := New(store, cache, time.Minute)
	user, err := dir.Signup(ctx, models.SignupRequest{FullName: "D", Email: "d@x.com", Password: "pw"})
	require.NoError(t, err)

	mr.Close()
	got, err := dir.ByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}
