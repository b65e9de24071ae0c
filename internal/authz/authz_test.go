package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestIssueAndAuthenticate(t *testing.T) {
	a := NewJWTAuthenticator(secret)
	tok, err := a.Issue("u1", RoleAdmin, time.Hour, time.Now())
	require.NoError(t, err)

	id, err := a.Authenticate(tok)
	require.NoError(t, err)
	assert.Equal(t, Identity{ID: "u1", Role: RoleAdmin}, id)
}

func TestAuthenticate_Rejects(t *testing.T) {
	a := NewJWTAuthenticator(secret)

	expired, err := a.Issue("u1", RoleCustomer, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = a.Authenticate(expired)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	other, err := NewJWTAuthenticator("other").Issue("u1", RoleCustomer, time.Hour, time.Now())
	require.NoError(t, err)
	_, err = a.Authenticate(other)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).SignedString([]byte(secret))
	require.NoError(t, err)
	_, err = a.Authenticate(noExp)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticate_UnknownRoleIsCustomer(t *testing.T) {
	a := NewJWTAuthenticator(secret)
	tok, err := a.Issue("u1", Role("superuser"), time.Hour, time.Now())
	require.NoError(t, err)

	id, err := a.Authenticate(tok)
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, id.Role)
	assert.False(t, id.Can(CapManageSales))
}

func TestCan(t *testing.T) {
	customer := Identity{ID: "u1", Role: RoleCustomer}
	admin := Identity{ID: "a1", Role: RoleAdmin}

	assert.True(t, customer.Can(CapSettle))
	assert.False(t, customer.Can(CapMaintenance))
	assert.True(t, admin.Can(CapManageSales))
	assert.False(t, Identity{Role: RoleAdmin}.Can(CapSettle))
}

func TestMiddlewareAndRequire(t *testing.T) {
	a := NewJWTAuthenticator(secret)
	h := a.Middleware(Require(CapManageSales)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := FromContext(r.Context())
		_, _ = w.Write([]byte(id.ID))
	})))

	do := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/admin", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do("").Code)
	assert.Equal(t, http.StatusUnauthorized, do("Bearer garbage").Code)

	cust, _ := a.Issue("u1", RoleCustomer, time.Hour, time.Now())
	assert.Equal(t, http.StatusForbidden, do("Bearer "+cust).Code)

	adm, _ := a.Issue("a1", RoleAdmin, time.Hour, time.Now())
	rec := do("Bearer " + adm)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a1", rec.Body.String())
}

func TestCheck(t *testing.T) {
	_, err := Check(context.Background(), CapSettle)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	ctx := WithIdentity(context.Background(), Identity{ID: "u1", Role: RoleCustomer})
	_, err = Check(ctx, CapMaintenance)
	assert.ErrorIs(t, err, ErrForbidden)

	id, err := Check(ctx, CapBid)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)
}
