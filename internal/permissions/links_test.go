package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
)

// seed builds a Matrix directly from in-memory maps, bypassing Reload's
// database round trip — the matrix lookup logic is pure once loaded.
func seed(role map[domain.Role]map[domain.ActionCode]bool, state map[domain.ResourceState]map[domain.ActionCode]bool) *Matrix {
	m := New(nil, nil)
	m.roleAllows = role
	m.stateAllows = state
	return m
}

func TestAllowed_RequiresBothRoleAndStatePermission(t *testing.T) {
	m := seed(
		map[domain.Role]map[domain.ActionCode]bool{
			domain.RoleOperator: {domain.ActionForceStart: true},
			domain.RoleViewer:   {},
		},
		map[domain.ResourceState]map[domain.ActionCode]bool{
			domain.StateIdle:    {domain.ActionForceStart: true},
			domain.StateRunning: {},
		},
	)

	assert.True(t, m.Allowed(domain.RoleOperator, domain.StateIdle, domain.ActionForceStart))
	assert.False(t, m.Allowed(domain.RoleViewer, domain.StateIdle, domain.ActionForceStart), "role denies")
	assert.False(t, m.Allowed(domain.RoleOperator, domain.StateRunning, domain.ActionForceStart), "state denies")
}

func TestLinks_OnlyIncludesIntersectionAndSubstitutesLoaderCode(t *testing.T) {
	m := seed(
		map[domain.Role]map[domain.ActionCode]bool{
			domain.RoleAdmin: {domain.ActionForceStart: true, domain.ActionApproveLoader: true},
		},
		map[domain.ResourceState]map[domain.ActionCode]bool{
			domain.StateIdle: {domain.ActionForceStart: true},
		},
	)

	links := m.Links(domain.RoleAdmin, domain.StateIdle, "L1")

	assert.Len(t, links, 1)
	link, ok := links[domain.ActionForceStart]
	assert.True(t, ok, "role and state both allow FORCE_START")
	assert.Equal(t, "/api/v1/res/loaders/L1/execute", link.Href)
	assert.Equal(t, "POST", link.Method)
	_, hasApprove := links[domain.ActionApproveLoader]
	assert.False(t, hasApprove, "state does not admit APPROVE_LOADER while IDLE")
}

func TestLinks_EmptyMatrixDeniesEverything(t *testing.T) {
	m := New(nil, nil)

	links := m.Links(domain.RoleAdmin, domain.StateEnabled, "L1")

	assert.Empty(t, links, "an unloaded matrix must fail closed, not open")
}
