package handlers

import (
	"net/http"
)

// ListSources implements GET /ops/v1/admin/res/db-sources: the Source
// Registry's known descriptors, passwords already scrubbed by
// domain.SourceDatabase's own json:"-" tag.
func (d *Deps) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := d.Sources.ListDescriptors(r.Context())
	if err != nil {
		writeInternal(w, r, d.logger(), "sources.list", err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

// ReloadSecurity implements POST /ops/v1/admin/security/reload: refreshes
// the in-memory role/state permission matrix from
// resource_management.role_action_matrix and .state_action_matrix without
// a restart.
func (d *Deps) ReloadSecurity(w http.ResponseWriter, r *http.Request) {
	if err := d.Permissions.Reload(r.Context()); err != nil {
		writeInternal(w, r, d.logger(), "security.reload", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReloadSources implements POST /ops/v1/admin/res/db-sources/reload:
// re-reads loader.source_database, opening pools for newly added sources
// and closing pools for removed ones.
func (d *Deps) ReloadSources(w http.ResponseWriter, r *http.Request) {
	if err := d.Sources.ReloadAll(r.Context()); err != nil {
		writeInternal(w, r, d.logger(), "sources.reload", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
