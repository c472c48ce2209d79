// Package handlers implements the HTTP control surface of SPEC_FULL.md §6:
// thin adapters between gorilla/mux routes and the loader execution core's
// packages (loaderstore, configversioning, executor, backfillstore,
// signalstore, sourceregistry, permissions). Handlers never hold business
// logic beyond request decoding, permission re-checking, and response
// shaping — every invariant is enforced by the package it calls into.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vitaliisemenov/etl-signal-loader/internal/apperr"
	"github.com/vitaliisemenov/etl-signal-loader/internal/api/middleware"
	"github.com/vitaliisemenov/etl-signal-loader/internal/backfillstore"
	"github.com/vitaliisemenov/etl-signal-loader/internal/config"
	"github.com/vitaliisemenov/etl-signal-loader/internal/configversioning"
	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/executor"
	"github.com/vitaliisemenov/etl-signal-loader/internal/history"
	"github.com/vitaliisemenov/etl-signal-loader/internal/loaderstore"
	"github.com/vitaliisemenov/etl-signal-loader/internal/permissions"
	"github.com/vitaliisemenov/etl-signal-loader/internal/realtime"
	"github.com/vitaliisemenov/etl-signal-loader/internal/signalstore"
	"github.com/vitaliisemenov/etl-signal-loader/internal/sourceregistry"
)

// Deps bundles every collaborator the handlers need. It is built once by
// the composition root (cmd/server) and shared read-only across requests.
type Deps struct {
	Loaders      *loaderstore.Store
	Versions     *configversioning.Manager
	Backfill     *backfillstore.Store
	Signals      *signalstore.Store
	Sources      *sourceregistry.Registry
	History      *history.Store
	Executor     *executor.Executor
	Permissions   *permissions.Matrix
	ConfigReload  *config.ReloadCoordinator
	ConfigUpdates *config.DefaultConfigUpdateService
	ConfigPath    string
	Auth          *Authenticator
	Events       *realtime.DefaultEventBus
	Publisher    *realtime.EventPublisher
	Logger       *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// currentUser extracts the authenticated caller set by the auth
// middleware; its string role is mapped to a domain.Role by requireRole.
func currentUser(r *http.Request) (*middleware.User, bool) {
	return middleware.GetUser(r.Context())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeAppErr(w http.ResponseWriter, r *http.Request, err *apperr.Error) {
	apperr.WriteError(w, err.WithRequestID(middleware.GetRequestID(r.Context())))
}

func writeInternal(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	logger.Error("handler error", "op", op, "error", err)
	writeAppErr(w, r, apperr.Internal("an internal error occurred"))
}

func decodeJSON(r *http.Request, dst any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// resourceState derives a loader's §4.12 display state from its stored
// columns. "no scheduled execution" (the IDLE branch of the decision
// table) targets rows that are not themselves the ACTIVE version — a
// DRAFT or ARCHIVED row is never picked up by the scheduler regardless of
// its own enabled/loadStatus columns, so only VersionActive rows are
// ever "scheduled" for this derivation.
func resourceState(l *domain.Loader) domain.ResourceState {
	recentFailure := l.LoadStatus == domain.LoadStatusFailed
	scheduled := l.VersionStatus == domain.VersionActive
	return domain.DeriveState(l, recentFailure, scheduled)
}

// loaderResponse is one loader rendered for the control API, carrying the
// HATEOAS `_links` set alongside its derived state.
type loaderResponse struct {
	domain.Loader
	State domain.ResourceState                   `json:"state"`
	Links map[domain.ActionCode]permissions.Link `json:"_links"`
}

func (d *Deps) renderLoader(role domain.Role, l domain.Loader) loaderResponse {
	state := resourceState(&l)
	return loaderResponse{
		Loader: l,
		State:  state,
		Links:  d.Permissions.Links(role, state, l.Code),
	}
}

// requireRole maps a middleware.User's string role to domain.Role, failing
// closed (RoleViewer) on anything unrecognized so an unknown role never
// silently gains elevated permissions.
func requireRole(u *middleware.User) domain.Role {
	switch u.Role {
	case string(domain.RoleAdmin):
		return domain.RoleAdmin
	case string(domain.RoleOperator):
		return domain.RoleOperator
	default:
		return domain.RoleViewer
	}
}

// checkAllowed re-validates a state-changing action server-side — the
// `_links` set in a GET response is advisory only (§4.12).
func (d *Deps) checkAllowed(w http.ResponseWriter, r *http.Request, role domain.Role, l *domain.Loader, action domain.ActionCode) bool {
	state := resourceState(l)
	if !d.Permissions.Allowed(role, state, action) {
		writeAppErr(w, r, apperr.PermissionDenied(string(action)+" is not permitted for role "+string(role)+" in state "+string(state)))
		return false
	}
	return true
}
