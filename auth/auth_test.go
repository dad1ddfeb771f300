package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"permission-center/database"
	"permission-center/models"
	"permission-center/repositories"

	restful "github.com/emicklei/go-restful/v3"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var testKey = []byte("test-signing-key")

// setupAuthenticator returns an Authenticator over an in-memory store holding one user, alice/secret.
func setupAuthenticator(t *testing.T) (*Authenticator, *models.User) {
	t.Helper()
	db, err := database.OpenInMemory(zap.NewNop())
	require.NoError(t, err)

	users := repositories.NewUserRepository(db)
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{Username: "alice", Password: string(hash)}
	require.NoError(t, users.Create(context.Background(), user))

	return NewAuthenticator(testKey, time.Hour, "permission-center", users, zap.NewNop()), user
}

func TestGenerateToken(t *testing.T) {
	a, user := setupAuthenticator(t)

	token, err := a.GenerateToken(user)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := a.ParseAndValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "permission-center", claims.Issuer)
}

func TestParseAndValidateToken(t *testing.T) {
	a, user := setupAuthenticator(t)

	t.Run("Malformed", func(t *testing.T) {
		_, err := a.ParseAndValidateToken("not-a-token")
		assert.EqualError(t, err, "malformed token")
	})

	t.Run("Expired", func(t *testing.T) {
		expired := NewAuthenticator(testKey, -time.Minute, "permission-center", nil, zap.NewNop())
		token, err := expired.GenerateToken(user)
		require.NoError(t, err)

		_, err = a.ParseAndValidateToken(token)
		assert.EqualError(t, err, "token is either expired or not active yet")
	})

	t.Run("Wrong key", func(t *testing.T) {
		other := NewAuthenticator([]byte("another-key"), time.Hour, "permission-center", nil, zap.NewNop())
		token, err := other.GenerateToken(user)
		require.NoError(t, err)

		_, err = a.ParseAndValidateToken(token)
		assert.EqualError(t, err, "invalid token signature")
	})

	t.Run("Wrong algorithm", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &CustomClaims{UserID: 1}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = a.ParseAndValidateToken(token)
		assert.Error(t, err)
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	a, user := setupAuthenticator(t)

	token, got, err := a.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.NotEmpty(t, token)

	_, _, err = a.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = a.Login(ctx, "bob", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

type stubChecker struct {
	granted bool
	err     error
	got     []string
}

func (s *stubChecker) HasAllPermissions(_ context.Context, _ uint, permissions []string) (bool, error) {
	s.got = permissions
	return s.granted, s.err
}

func newContainer(a *Authenticator, filters ...restful.FilterFunction) *restful.Container {
	container := restful.NewContainer()
	ws := new(restful.WebService)
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Route(ws.POST("/login").To(a.LoginRouteHandler))

	route := ws.GET("/protected").Filter(a.AuthFilter())
	for _, f := range filters {
		route = route.Filter(f)
	}
	ws.Route(route.To(func(req *restful.Request, resp *restful.Response) {
		userID, _ := UserIDFromRequest(req)
		_ = resp.WriteAsJson(map[string]any{"user_id": userID, "username": req.Attribute(AttrUsername)})
	}))
	container.Add(ws)
	return container
}

func doRequest(container *restful.Container, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	container.ServeHTTP(w, req)
	return w
}

func TestAuthFilter(t *testing.T) {
	a, user := setupAuthenticator(t)
	container := newContainer(a)

	t.Run("No token", func(t *testing.T) {
		w := doRequest(container, http.MethodGet, "/protected", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "authorization header required")
	})

	t.Run("Bad format", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Token abc")
		w := httptest.NewRecorder()
		container.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid authorization header format")
	})

	t.Run("Valid token", func(t *testing.T) {
		token, err := a.GenerateToken(user)
		require.NoError(t, err)

		w := doRequest(container, http.MethodGet, "/protected", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, float64(user.ID), body["user_id"])
		assert.Equal(t, "alice", body["username"])
	})
}

func TestRequirePermissions(t *testing.T) {
	a, user := setupAuthenticator(t)
	token, err := a.GenerateToken(user)
	require.NoError(t, err)

	t.Run("Granted", func(t *testing.T) {
		checker := &stubChecker{granted: true}
		container := newContainer(a, RequirePermissions(checker, zap.NewNop(), "roles.view", "roles.assign"))

		w := doRequest(container, http.MethodGet, "/protected", token, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"roles.view", "roles.assign"}, checker.got)
	})

	t.Run("Denied", func(t *testing.T) {
		container := newContainer(a, RequirePermissions(&stubChecker{}, zap.NewNop(), "roles.view"))

		w := doRequest(container, http.MethodGet, "/protected", token, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.JSONEq(t, `{"message":"Forbidden"}`, w.Body.String())
	})

	t.Run("Store failure", func(t *testing.T) {
		checker := &stubChecker{err: errors.New("store failure")}
		container := newContainer(a, RequirePermissions(checker, zap.NewNop(), "roles.view"))

		w := doRequest(container, http.MethodGet, "/protected", token, nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestLoginRouteHandler(t *testing.T) {
	a, user := setupAuthenticator(t)
	container := newContainer(a)

	t.Run("Success", func(t *testing.T) {
		w := doRequest(container, http.MethodPost, "/login", "", LoginCredentials{Username: "alice", Password: "secret"})
		require.Equal(t, http.StatusOK, w.Code)

		var resp LoginResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, user.ID, resp.UserID)
		claims, err := a.ParseAndValidateToken(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, claims.UserID)
	})

	t.Run("Wrong password", func(t *testing.T) {
		w := doRequest(container, http.MethodPost, "/login", "", LoginCredentials{Username: "alice", Password: "nope"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid credentials")
	})

	t.Run("Missing fields", func(t *testing.T) {
		w := doRequest(container, http.MethodPost, "/login", "", LoginCredentials{Username: "alice"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
