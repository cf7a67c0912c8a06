package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alumnet/internal/apperror"
	"alumnet/internal/models"
)

func testUser() *models.User {
	return &models.User{ID: 7, Email: "a@x.com", Role: models.RoleAlumni}
}

func TestIssueAndResolve(t *testing.T) {
	r := NewResolver("secret", time.Hour, "alumnet")

	token, exp, err := r.Issue(testUser())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 2*time.Second)

	p, err := r.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.UserID)
	assert.Equal(t, "a@x.com", p.Email)
	assert.Equal(t, models.RoleAlumni, p.Role)
	assert.Equal(t, exp, p.ExpiresAt)
}

func TestResolveMissing(t *testing.T) {
	r := NewResolver("secret", time.Hour, "alumnet")
	_, err := r.Resolve("  ")
	assert.True(t, apperror.Is(err, apperror.CodeAuthMissing))
}

func TestResolveRejectsWrongSecret(t *testing.T) {
	token, _, err := NewResolver("other", time.Hour, "alumnet").Issue(testUser())
	require.NoError(t, err)

	_, err = NewResolver("secret", time.Hour, "alumnet").Resolve(token)
	assert.True(t, apperror.Is(err, apperror.CodeAuthInvalid))

	_, err = NewResolver("secret", time.Hour, "alumnet").Resolve("not-a-token")
	assert.True(t, apperror.Is(err, apperror.CodeAuthInvalid))
}

func TestResolveRejectsExpired(t *testing.T) {
	issuer := NewResolver("secret", time.Minute, "alumnet")
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, _, err := issuer.Issue(testUser())
	require.NoError(t, err)

	_, err = NewResolver("secret", time.Minute, "alumnet").Resolve(token)
	assert.True(t, apperror.Is(err, apperror.CodeAuthInvalid))
}

func TestResolveRejectsOtherIssuerAndAlgorithm(t *testing.T) {
	token, _, err := NewResolver("secret", time.Hour, "someone-else").Issue(testUser())
	require.NoError(t, err)
	_, err = NewResolver("secret", time.Hour, "alumnet").Resolve(token)
	assert.True(t, apperror.Is(err, apperror.CodeAuthInvalid))

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: 7}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = NewResolver("secret", time.Hour, "alumnet").Resolve(unsigned)
	assert.True(t, apperror.Is(err, apperror.CodeAuthInvalid))
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	assert.Equal(t, "", TokenFromRequest(req, false))
	assert.Equal(t, "from-query", TokenFromRequest(req, true))

	req.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", TokenFromRequest(req, true))

	req.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", TokenFromRequest(req, true))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), &models.Principal{UserID: 3})
	p, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(3), p.UserID)
}
