package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vitaliisemenov/etl-signal-loader/internal/apperr"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// API keys mapped to users
	// Key: API key, Value: User
	APIKeys map[string]*User

	// JWT secret for token validation
	JWTSecret string

	// Enable API key authentication
	EnableAPIKey bool

	// Enable JWT authentication
	EnableJWT bool
}

// AuthMiddleware validates API key or JWT token
//
// Supported authentication types:
//   - ApiKey: Header "Authorization: ApiKey <key>"
//   - Bearer: Header "Authorization: Bearer <jwt>"
//
// On success, adds User to request context (accessible via UserContextKey).
// On failure, returns 401 Unauthorized.
func AuthMiddleware(config AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get(AuthorizationHeader)
			if authHeader == "" {
				writeUnauthorized(w, r, "Missing Authorization header")
				return
			}

			// Parse authorization header
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 {
				writeUnauthorized(w, r, "Invalid Authorization header format")
				return
			}

			authType := parts[0]
			authValue := parts[1]

			var user *User
			var err error

			switch authType {
			case "ApiKey":
				if !config.EnableAPIKey {
					writeUnauthorized(w, r, "API key authentication disabled")
					return
				}
				user, err = validateAPIKey(authValue, config.APIKeys)

			case "Bearer":
				if !config.EnableJWT {
					writeUnauthorized(w, r, "JWT authentication disabled")
					return
				}
				user, err = validateJWT(authValue, config.JWTSecret)

			default:
				writeUnauthorized(w, r, "Unsupported authentication type")
				return
			}

			if err != nil || user == nil {
				writeUnauthorized(w, r, "Invalid credentials")
				return
			}

			// Add user to context
			ctx := context.WithValue(r.Context(), UserContextKey, user)
			r = r.WithContext(ctx)

			// Call next handler
			next.ServeHTTP(w, r)
		})
	}
}

// validateAPIKey validates API key against configuration
func validateAPIKey(apiKey string, apiKeys map[string]*User) (*User, error) {
	if user, exists := apiKeys[apiKey]; exists {
		return user, nil
	}
	return nil, nil
}

// Claims is the payload of a login token issued by IssueToken: enough to
// rebuild a User without a database round trip on every request.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// DefaultTokenExpiry is how long a token issued by IssueToken remains valid.
const DefaultTokenExpiry = 8 * time.Hour

// IssueToken signs a token for an authenticated user, used by the
// /api/v1/auth/login handler.
func IssueToken(secret, userID, username, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(DefaultTokenExpiry)),
			Issuer:    "etl-signal-loader",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// validateJWT parses and verifies a Bearer token issued by IssueToken and
// reconstructs the User it carries.
func validateJWT(tokenString string, secret string) (*User, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return &User{
		ID:       claims.Subject,
		Username: claims.Username,
		Role:     claims.Role,
	}, nil
}

// RBACMiddleware checks if user has required role
//
// Role hierarchy: admin (3) > operator (2) > viewer (1)
//
// Returns 403 Forbidden if user lacks required permissions.
func RBACMiddleware(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := r.Context().Value(UserContextKey).(*User)
			if !ok || user == nil {
				writeUnauthorized(w, r, "User not authenticated")
				return
			}

			if !HasRequiredRole(user.Role, requiredRole) {
				writeForbidden(w, r, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AdminMiddleware is a convenience wrapper for admin-only endpoints
func AdminMiddleware(next http.Handler) http.Handler {
	return RBACMiddleware(RoleAdmin)(next)
}

// OperatorMiddleware is a convenience wrapper for operator+ endpoints
func OperatorMiddleware(next http.Handler) http.Handler {
	return RBACMiddleware(RoleOperator)(next)
}

// writeUnauthorized writes the uniform 401 error envelope.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	err := apperr.New(apperr.CodeAuthenticationFailed, message).WithRequestID(GetRequestID(r.Context()))
	apperr.WriteError(w, err)
}

// writeForbidden writes the uniform 403 error envelope.
func writeForbidden(w http.ResponseWriter, r *http.Request, message string) {
	err := apperr.New(apperr.CodePermissionDenied, message).WithRequestID(GetRequestID(r.Context()))
	apperr.WriteError(w, err)
}

// GetUser extracts authenticated user from context
func GetUser(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(UserContextKey).(*User)
	return user, ok
}
