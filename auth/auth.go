package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"permission-center/models"
	"permission-center/repositories"

	restful "github.com/emicklei/go-restful/v3"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Request attribute keys set by AuthFilter.
const (
	AttrUserID   = "user_id"
	AttrUsername = "username"
)

// ErrInvalidCredentials is returned by Login for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// CustomClaims represents the custom claims carried in our JWTs.
type CustomClaims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates tokens and checks login credentials.
type Authenticator struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	users      repositories.UserRepository
	logger     *zap.Logger
}

// NewAuthenticator creates an Authenticator signing HS256 tokens with signingKey.
func NewAuthenticator(signingKey []byte, ttl time.Duration, issuer string, users repositories.UserRepository, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		signingKey: signingKey,
		ttl:        ttl,
		issuer:     issuer,
		users:      users,
		logger:     logger.Named("auth"),
	}
}

// GenerateToken creates a new JWT for the given user.
func (a *Authenticator) GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    a.issuer,
			Subject:   "user-auth",
			Audience:  []string{a.issuer + "-users"},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(a.signingKey)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// ParseAndValidateToken : used for gRPC and filters
func (a *Authenticator) ParseAndValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.signingKey, nil
	})

	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok {
			if ve.Errors&jwt.ValidationErrorMalformed != 0 {
				return nil, errors.New("malformed token")
			} else if ve.Errors&(jwt.ValidationErrorExpired|jwt.ValidationErrorNotValidYet) != 0 {
				return nil, errors.New("token is either expired or not active yet")
			} else if ve.Errors&jwt.ValidationErrorSignatureInvalid != 0 {
				return nil, errors.New("invalid token signature")
			}
		}
		return nil, fmt.Errorf("couldn't handle this token: %w", err)
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// Login checks the credentials and returns a fresh token for the user.
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := a.users.FindByUsername(ctx, username)
	if errors.Is(err, repositories.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := a.GenerateToken(user)
	if err != nil {
		return "", nil, fmt.Errorf("could not generate token: %w", err)
	}
	a.logger.Info("user logged in", zap.Uint("user_id", user.ID), zap.String("username", user.Username))
	return token, user, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}

// AuthFilter creates a go-restful FilterFunction for JWT authentication.
func (a *Authenticator) AuthFilter() restful.FilterFunction {
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		tokenString, err := BearerToken(req.HeaderParameter("Authorization"))
		if err != nil {
			_ = resp.WriteHeaderAndJson(http.StatusUnauthorized, map[string]string{"message": err.Error()}, restful.MIME_JSON)
			return
		}

		claims, err := a.ParseAndValidateToken(tokenString)
		if err != nil {
			_ = resp.WriteHeaderAndJson(http.StatusUnauthorized, map[string]string{"message": err.Error()}, restful.MIME_JSON)
			return
		}

		// Store user information in request attributes for use by subsequent processing functions
		req.SetAttribute(AttrUserID, claims.UserID)
		req.SetAttribute(AttrUsername, claims.Username)

		chain.ProcessFilter(req, resp)
	}
}

// UserIDFromRequest returns the caller id stored by AuthFilter.
func UserIDFromRequest(req *restful.Request) (uint, bool) {
	userID, ok := req.Attribute(AttrUserID).(uint)
	return userID, ok
}

// PermissionChecker is the part of the authorization engine the gate needs.
type PermissionChecker interface {
	HasAllPermissions(ctx context.Context, userID uint, permissions []string) (bool, error)
}

// RequirePermissions admits the request only when the authenticated caller holds every named
// permission. It must run after AuthFilter.
func RequirePermissions(checker PermissionChecker, logger *zap.Logger, permissions ...string) restful.FilterFunction {
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		userID, ok := UserIDFromRequest(req)
		if !ok {
			_ = resp.WriteHeaderAndJson(http.StatusUnauthorized, map[string]string{"message": "Unauthorized"}, restful.MIME_JSON)
			return
		}

		granted, err := checker.HasAllPermissions(req.Request.Context(), userID, permissions)
		if err != nil {
			logger.Error("permission check failed", zap.Uint("user_id", userID), zap.Strings("permissions", permissions), zap.Error(err))
			_ = resp.WriteHeaderAndJson(http.StatusInternalServerError, map[string]string{"message": "Internal Server Error"}, restful.MIME_JSON)
			return
		}
		if !granted {
			logger.Debug("access denied", zap.Uint("user_id", userID), zap.Strings("permissions", permissions), zap.String("path", req.Request.URL.Path))
			_ = resp.WriteHeaderAndJson(http.StatusForbidden, map[string]string{"message": "Forbidden"}, restful.MIME_JSON)
			return
		}
		chain.ProcessFilter(req, resp)
	}
}

// --- go-restful login processing function ---

// LoginCredentials defines the structure of the login request
type LoginCredentials struct {
	Username string `json:"username" description:"Username for login"`
	Password string `json:"password" description:"Password for login"`
}

// LoginResponse defines the structure of the login response
type LoginResponse struct {
	Token   string `json:"token,omitempty"`
	UserID  uint   `json:"user_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// LoginRouteHandler handles the /login route using go-restful.
func (a *Authenticator) LoginRouteHandler(request *restful.Request, response *restful.Response) {
	creds := new(LoginCredentials)
	err := request.ReadEntity(creds)
	if err != nil {
		_ = response.WriteHeaderAndJson(http.StatusBadRequest, LoginResponse{Message: "Invalid request body: " + err.Error()}, restful.MIME_JSON)
		return
	}

	if creds.Username == "" || creds.Password == "" {
		_ = response.WriteHeaderAndJson(http.StatusBadRequest, LoginResponse{Message: "Username and password are required"}, restful.MIME_JSON)
		return
	}

	token, user, err := a.Login(request.Request.Context(), creds.Username, creds.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		// Avoid revealing whether the user exists
		_ = response.WriteHeaderAndJson(http.StatusUnauthorized, LoginResponse{Message: "Invalid credentials"}, restful.MIME_JSON)
		return
	}
	if err != nil {
		a.logger.Error("login failed", zap.String("username", creds.Username), zap.Error(err))
		_ = response.WriteHeaderAndJson(http.StatusInternalServerError, LoginResponse{Message: "Could not log in"}, restful.MIME_JSON)
		return
	}

	_ = response.WriteHeaderAndJson(http.StatusOK, LoginResponse{Token: token, UserID: user.ID}, restful.MIME_JSON)
}
