package httppresentation

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ahz777/nxtmarket/internal/domain/identity"
	"github.com/ahz777/nxtmarket/internal/pkg/apperr"
	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingToken = apperr.Unauthenticated("Missing or invalid Authorization header")
	errInvalidToken = apperr.Unauthenticated("Invalid or expired token")
)

// Claims carries the actor. Older tokens put the id in "id" instead of "sub".
type Claims struct {
	LegacyID string `json:"id,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) actor() identity.Actor {
	id := c.Subject
	if id == "" {
		id = c.LegacyID
	}
	return identity.Actor{ID: id, Role: identity.Role(strings.ToLower(c.Role))}
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for a; operators and tests use it to mint credentials.
func (a *Authenticator) Issue(actor identity.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

func (a *Authenticator) Verify(raw string) (identity.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return identity.Actor{}, errInvalidToken
	}
	actor := claims.actor()
	if actor.ID == "" || actor.Role == "" {
		return identity.Actor{}, errInvalidToken
	}
	return actor, nil
}

// Middleware rejects requests without a valid bearer token and puts the
// actor on the context.
func (a *Authenticator) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, raw, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(raw) == "" {
				onError(w, r, errMissingToken)
				return
			}
			actor, err := a.Verify(strings.TrimSpace(raw))
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithActor(r.Context(), actor)))
		})
	}
}

func actorOf(r *http.Request) identity.Actor {
	a, _ := identity.ActorFrom(r.Context())
	return a
}
