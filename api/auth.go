package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/casework/welfare"
)

// Claims carry the acting principal. Login and session lifecycle live
// elsewhere; this service only trusts what a signed token says.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewAuthenticator(secret, issuer string) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue mints a token for p valid for ttl.
func (a *Authenticator) Issue(p welfare.Principal, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		UserID: string(p.UserID),
		Role:   string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(p.UserID),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses a token and returns its principal.
func (a *Authenticator) Verify(token string) (welfare.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return welfare.Principal{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return welfare.Principal{}, jwt.ErrTokenInvalidClaims
	}
	if claims.UserID == "" {
		return welfare.Principal{}, fmt.Errorf("%w: user_id is empty", jwt.ErrTokenInvalidClaims)
	}
	return welfare.Principal{UserID: welfare.UserID(claims.UserID), Role: welfare.Role(claims.Role)}, nil
}

type principalKey struct{}

// PrincipalFrom returns the principal set by Middleware.
func PrincipalFrom(ctx context.Context) (welfare.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(welfare.Principal)
	return p, ok
}

func WithPrincipal(ctx context.Context, p welfare.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// Middleware rejects requests without a valid bearer token with 401.
// Unknown roles get through; access policies reject them per operation.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token", nil)
			return
		}
		p, err := a.Verify(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
