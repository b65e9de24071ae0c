// Package authz resolves the caller's identity from an HS256 bearer token
// and answers capability checks for it. It is the only place roles are
// compared.
package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

type Capability string

const (
	CapReserve     Capability = "reserve"
	CapBid         Capability = "bid"
	CapSettle      Capability = "settle"
	CapManageSales Capability = "sales:manage" // flash sales and auctions
	CapManageOrder Capability = "orders:manage"
	CapMaintenance Capability = "maintenance"
)

var grants = map[Role]map[Capability]bool{
	RoleCustomer: {CapReserve: true, CapBid: true, CapSettle: true},
	RoleAdmin: {
		CapReserve: true, CapBid: true, CapSettle: true,
		CapManageSales: true, CapManageOrder: true, CapMaintenance: true,
	},
}

type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (i Identity) Can(c Capability) bool { return i.ID != "" && grants[i.Role][c] }

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type JWTAuthenticator struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}
}

// Issue signs a token for id. It backs local tooling and tests; production
// tokens come from the identity provider that shares the secret.
func (a *JWTAuthenticator) Issue(id string, role Role, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *JWTAuthenticator) Authenticate(raw string) (Identity, error) {
	var claims Claims
	tok, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return a.secret, nil })
	if err != nil || !tok.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	role := Role(claims.Role)
	if _, ok := grants[role]; !ok {
		role = RoleCustomer
	}
	return Identity{ID: claims.Subject, Role: role}, nil
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Middleware rejects requests without a valid bearer token and stores the
// resolved identity in the request context.
func (a *JWTAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			deny(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := a.Authenticate(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			deny(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// Require lets the request through only when the identity holds c.
func Require(c Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, "unauthenticated")
				return
			}
			if !id.Can(c) {
				deny(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Check is the in-process form of Require.
func Check(ctx context.Context, c Capability) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	if !id.Can(c) {
		return id, fmt.Errorf("%w: %s lacks %s", ErrForbidden, id.Role, c)
	}
	return id, nil
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
