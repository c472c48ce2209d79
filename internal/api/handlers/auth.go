package handlers

import (
	"net/http"

	"github.com/vitaliisemenov/etl-signal-loader/internal/apperr"
	"github.com/vitaliisemenov/etl-signal-loader/internal/api/middleware"
)

// Credential is one operator-provisioned login, decoupled from package
// config so handlers does not import the config layer just for this
// shape; cmd/server's composition root adapts config.UserCredential into
// this type when building the Authenticator.
type Credential struct {
	Username string
	Password string
	APIKey   string
	Role     string
}

// Authenticator resolves username/password logins against the
// operator-provisioned credential list (config.AuthConfig.Users — there
// is no auth.users table backing this).
type Authenticator struct {
	bySource map[string]Credential
}

// NewAuthenticator builds an Authenticator from the configured credential
// list.
func NewAuthenticator(creds []Credential) *Authenticator {
	a := &Authenticator{bySource: make(map[string]Credential, len(creds))}
	for _, c := range creds {
		a.bySource[c.Username] = c
	}
	return a
}

// Authenticate validates a username/password pair, returning the matching
// role on success.
func (a *Authenticator) Authenticate(username, password string) (role string, ok bool) {
	c, found := a.bySource[username]
	if !found || c.Password == "" || c.Password != password {
		return "", false
	}
	return c.Role, true
}

// APIKeys renders the credential list as the map AuthMiddleware expects.
func (a *Authenticator) APIKeys() map[string]*middleware.User {
	out := make(map[string]*middleware.User)
	for _, c := range a.bySource {
		if c.APIKey == "" {
			continue
		}
		out[c.APIKey] = &middleware.User{ID: c.Username, Username: c.Username, Role: c.Role, APIKey: c.APIKey}
	}
	return out
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	Role      string `json:"role"`
	ExpiresIn int    `json:"expiresIn"`
}

// Login implements POST /api/v1/auth/login: exchanges a username/password
// pair for a Bearer JWT, per §6's auth surface.
func (d *Deps) Login(jwtSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeAppErr(w, r, apperr.Validation(apperr.CodeValidationRequiredField, "invalid request body"))
			return
		}

		role, ok := d.Auth.Authenticate(req.Username, req.Password)
		if !ok {
			writeAppErr(w, r, apperr.New(apperr.CodeAuthenticationFailed, "invalid username or password"))
			return
		}

		token, err := middleware.IssueToken(jwtSecret, req.Username, req.Username, role)
		if err != nil {
			writeInternal(w, r, d.logger(), "login.issue_token", err)
			return
		}

		writeJSON(w, http.StatusOK, loginResponse{
			Token:     token,
			Role:      role,
			ExpiresIn: int(middleware.DefaultTokenExpiry.Seconds()),
		})
	}
}
