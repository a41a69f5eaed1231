package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevecastle/dicomalbum/renderer"
	"github.com/stevecastle/dicomalbum/store"
)

func newTestService(t *testing.T) *AuthService {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "auth.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewAuthService(s.DB(), "test-secret")
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	u, err := svc.Register(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.NotZero(t, u.ID)

	_, err = svc.Register(ctx, "alice", "other")
	assert.True(t, errors.Is(err, ErrUserExists))

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"valid", "alice", "s3cret", nil},
		{"wrong password", "alice", "nope", ErrInvalidCreds},
		{"unknown user", "bob", "s3cret", ErrInvalidCreds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := svc.Login(ctx, tt.username, tt.password)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			claims, err := svc.VerifyToken(tok)
			require.NoError(t, err)
			assert.Equal(t, u.ID, claims.UserID)
			assert.Equal(t, "alice", claims.Username)
		})
	}
}

func TestRegisterRejectsEmpty(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Register(context.Background(), "  ", "pw")
	assert.True(t, errors.Is(err, ErrInvalidCreds))
}

func TestVerifyTokenRejects(t *testing.T) {
	svc := newTestService(t)
	other := NewAuthService(nil, "other-secret")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	expiredTok, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: 1})
	foreignTok, err := foreign.SignedString(other.jwtSecret)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"garbage":      "not-a-token",
		"expired":      expiredTok,
		"wrong secret": foreignTok,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.VerifyToken(tok)
			assert.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}
}

func TestCreateDefaultUserAndDelete(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	require.NoError(t, svc.CreateDefaultUser(ctx))
	require.NoError(t, svc.CreateDefaultUser(ctx))
	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "admin", users[0].Username)

	assert.True(t, errors.Is(svc.DeleteUser(ctx, "admin"), ErrLastUser))

	_, err = svc.Register(ctx, "bob", "pw")
	require.NoError(t, err)
	assert.True(t, errors.Is(svc.DeleteUser(ctx, "nobody"), ErrUserNotFound))
	require.NoError(t, svc.DeleteUser(ctx, "admin"))

	users, err = svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)
}

func TestMiddleware(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.Register(ctx, "carol", "pw")
	require.NoError(t, err)
	tok, err := svc.Login(ctx, "carol", "pw")
	require.NoError(t, err)

	var seen *Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		role       renderer.AuthRole
		header     string
		wantStatus int
		wantUser   string
	}{
		{"public without token", renderer.RolePublic, "", http.StatusOK, ""},
		{"missing token", renderer.RoleUser, "", http.StatusUnauthorized, ""},
		{"bad token", renderer.RoleUser, "Bearer junk", http.StatusUnauthorized, ""},
		{"valid token", renderer.RoleUser, "Bearer " + tok, http.StatusOK, "carol"},
		{"lowercase scheme", renderer.RoleUser, "bearer " + tok, http.StatusOK, "carol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			svc.Middleware(inner, tt.role).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantUser == "" {
				assert.Nil(t, seen)
			} else {
				require.NotNil(t, seen)
				assert.Equal(t, tt.wantUser, seen.Username)
			}
		})
	}
}

func TestOptional(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.Register(ctx, "dave", "pw")
	require.NoError(t, err)
	tok, err := svc.Login(ctx, "dave", "pw")
	require.NoError(t, err)

	var ok bool
	h := svc.Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = FromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer junk")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, ok)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, ok)
}
