// Package permissions implements the Approval/State Permissions HATEOAS
// link builder (SPEC_FULL.md §4.12): role x state x action matrices are
// loaded as data from resource_management.role_action_matrix and
// resource_management.state_action_matrix, never hardcoded, and
// intersected at request time to produce the `_links` set for a loader.
//
// The link set returned here is advisory only — every state-changing API
// handler MUST call Allowed again server-side before acting; nothing in
// this package may be trusted as an authorization decision on its own.
package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
)

// Link is one HATEOAS action link.
type Link struct {
	Href   string `json:"href"`
	Method string `json:"method"`
}

// actionRoutes maps each action code to the HTTP route it would hit,
// per §6's wire surface. %s is the loaderCode.
var actionRoutes = map[domain.ActionCode]Link{
	domain.ActionToggleEnabled:    {Href: "/api/v1/res/loaders/%s/toggle", Method: "PUT"},
	domain.ActionForceStart:       {Href: "/api/v1/res/loaders/%s/execute", Method: "POST"},
	domain.ActionEditLoader:       {Href: "/api/v1/res/loaders/%s", Method: "PUT"},
	domain.ActionDeleteLoader:     {Href: "/api/v1/res/loaders/%s", Method: "DELETE"},
	domain.ActionApproveLoader:    {Href: "/api/v1/res/loaders/%s/approve", Method: "POST"},
	domain.ActionRejectLoader:     {Href: "/api/v1/res/loaders/%s/reject", Method: "POST"},
	domain.ActionViewDetails:      {Href: "/api/v1/res/loaders/%s", Method: "GET"},
	domain.ActionViewSignals:      {Href: "/api/v1/res/signals/signal/%s", Method: "GET"},
	domain.ActionViewExecutionLog: {Href: "/api/v1/res/loaders/%s/history", Method: "GET"},
	domain.ActionViewAlerts:       {Href: "/api/v1/res/loaders/%s/alerts", Method: "GET"},
}

// Matrix is the cached role/state permission matrix. It is small and
// read-mostly (seeded once by migrations, changed rarely by operators),
// so it is loaded in full and kept in memory rather than queried per
// request; Reload refreshes it, wired to POST /ops/v1/admin/security/reload.
type Matrix struct {
	db     postgres.DatabaseConnection
	logger *slog.Logger

	mu          sync.RWMutex
	roleAllows  map[domain.Role]map[domain.ActionCode]bool
	stateAllows map[domain.ResourceState]map[domain.ActionCode]bool
}

// New builds a Matrix. Call Reload before first use — the matrix starts
// empty (denies everything) rather than silently permitting actions it
// hasn't loaded yet.
func New(db postgres.DatabaseConnection, logger *slog.Logger) *Matrix {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matrix{
		db: db, logger: logger,
		roleAllows:  make(map[domain.Role]map[domain.ActionCode]bool),
		stateAllows: make(map[domain.ResourceState]map[domain.ActionCode]bool),
	}
}

// Reload replaces the in-memory matrix with the current contents of
// resource_management.role_action_matrix and .state_action_matrix.
func (m *Matrix) Reload(ctx context.Context) error {
	roleAllows, err := m.loadRoleMatrix(ctx)
	if err != nil {
		return fmt.Errorf("permissions: load role matrix: %w", err)
	}
	stateAllows, err := m.loadStateMatrix(ctx)
	if err != nil {
		return fmt.Errorf("permissions: load state matrix: %w", err)
	}

	m.mu.Lock()
	m.roleAllows = roleAllows
	m.stateAllows = stateAllows
	m.mu.Unlock()

	m.logger.Info("permission matrix reloaded", "roles", len(roleAllows), "states", len(stateAllows))
	return nil
}

func (m *Matrix) loadRoleMatrix(ctx context.Context) (map[domain.Role]map[domain.ActionCode]bool, error) {
	rows, err := m.db.Query(ctx, `SELECT role, action_code, allowed FROM resource_management.role_action_matrix`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.Role]map[domain.ActionCode]bool)
	for rows.Next() {
		var role domain.Role
		var action domain.ActionCode
		var allowed bool
		if err := rows.Scan(&role, &action, &allowed); err != nil {
			return nil, err
		}
		if out[role] == nil {
			out[role] = make(map[domain.ActionCode]bool)
		}
		out[role][action] = allowed
	}
	return out, rows.Err()
}

func (m *Matrix) loadStateMatrix(ctx context.Context) (map[domain.ResourceState]map[domain.ActionCode]bool, error) {
	rows, err := m.db.Query(ctx, `SELECT resource_state, action_code, allowed FROM resource_management.state_action_matrix`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.ResourceState]map[domain.ActionCode]bool)
	for rows.Next() {
		var state domain.ResourceState
		var action domain.ActionCode
		var allowed bool
		if err := rows.Scan(&state, &action, &allowed); err != nil {
			return nil, err
		}
		if out[state] == nil {
			out[state] = make(map[domain.ActionCode]bool)
		}
		out[state][action] = allowed
	}
	return out, rows.Err()
}

// Allowed implements §4.12's derivation: allowed = (role permits action) ∧
// (state permits action). This is the server-side check every
// state-changing handler must call before acting — the Links set is a
// convenience for clients, not a substitute for this.
func (m *Matrix) Allowed(role domain.Role, state domain.ResourceState, action domain.ActionCode) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roleAllows[role][action] && m.stateAllows[state][action]
}

// Links computes the `_links` map for one loader response: every action
// code allowed to role in state, rendered with loaderCode substituted
// into its route template.
func (m *Matrix) Links(role domain.Role, state domain.ResourceState, loaderCode string) map[domain.ActionCode]Link {
	m.mu.RLock()
	defer m.mu.RUnlock()

	links := make(map[domain.ActionCode]Link)
	for action, route := range actionRoutes {
		if m.roleAllows[role][action] && m.stateAllows[state][action] {
			links[action] = Link{Href: fmt.Sprintf(route.Href, loaderCode), Method: route.Method}
		}
	}
	return links
}
