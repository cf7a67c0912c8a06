package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"alumnet/internal/apperror"
	"alumnet/internal/models"
)

// CookieName is the cookie the login handler sets for browser clients.
const CookieName = "auth_token"

// Claims carried by an access token.
type Claims struct {
	jwt.StandardClaims
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// Resolver issues and validates bearer credentials.
type Resolver struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewResolver(secret string, ttl time.Duration, issuer string) *Resolver {
	return &Resolver{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}
}

// Issue signs a token for the user and returns it with its expiry.
func (r *Resolver) Issue(user *models.User) (string, time.Time, error) {
	issuedAt := r.now()
	expiresAt := issuedAt.Add(r.ttl)

	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    r.issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  issuedAt.Unix(),
			ExpiresAt: expiresAt.Unix(),
		},
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", time.Time{}, apperror.Internal(fmt.Errorf("failed to sign token: %w", err))
	}
	return token, time.Unix(expiresAt.Unix(), 0).UTC(), nil
}

// Resolve validates a raw token and returns the principal it names.
func (r *Resolver) Resolve(raw string) (*models.Principal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperror.AuthMissing()
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperror.AuthInvalid(err)
	}

	// ParseWithClaims checks exp against wall time; check it against our clock too.
	if claims.ExpiresAt <= r.now().Unix() {
		return nil, apperror.AuthInvalid(fmt.Errorf("token expired"))
	}
	if claims.UserID <= 0 {
		return nil, apperror.AuthInvalid(fmt.Errorf("token carries no user id"))
	}
	if r.issuer != "" && claims.Issuer != r.issuer {
		return nil, apperror.AuthInvalid(fmt.Errorf("unexpected issuer %q", claims.Issuer))
	}

	return &models.Principal{
		UserID:    claims.UserID,
		Email:     claims.Email,
		Role:      claims.Role,
		IssuedAt:  time.Unix(claims.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(claims.ExpiresAt, 0).UTC(),
	}, nil
}

// TokenFromRequest reads the credential from the Authorization header,
// then the auth cookie, then (when allowQuery is set) the token query
// parameter used by browser websocket clients.
func TokenFromRequest(r *http.Request, allowQuery bool) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimSpace(h[len("Bearer "):])
		}
	}
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if allowQuery {
		return r.URL.Query().Get("token")
	}
	return ""
}

// ResolveRequest is Resolve over TokenFromRequest.
func (r *Resolver) ResolveRequest(req *http.Request, allowQuery bool) (*models.Principal, error) {
	return r.Resolve(TokenFromRequest(req, allowQuery))
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*models.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*models.Principal)
	return p, ok && p != nil
}
