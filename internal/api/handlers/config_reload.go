package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vitaliisemenov/etl-signal-loader/internal/apperr"
	"github.com/gorilla/mux"
)

// configReloadStatus is the JSON shape returned by GET
// /ops/v1/admin/config/status.
type configReloadStatus struct {
	Version    int64  `json:"version"`
	Status     string `json:"status"`
	LastReload string `json:"lastReload"`
}

// ConfigReloadStatus implements GET /ops/v1/admin/config/status: the
// hot-reload pipeline's current version and the outcome of its last run.
func (d *Deps) ConfigReloadStatus(w http.ResponseWriter, r *http.Request) {
	version, status, lastReload := d.ConfigReload.GetReloadStatus()
	writeJSON(w, http.StatusOK, configReloadStatus{
		Version:    version,
		Status:     status,
		LastReload: lastReload.Format(time.RFC3339),
	})
}

// configReloadRequest is the JSON body accepted by
// POST /ops/v1/admin/config/reload. configPath defaults to the path the
// service was started with when omitted.
type configReloadRequest struct {
	ConfigPath string `json:"configPath"`
}

// ConfigReload implements POST /ops/v1/admin/config/reload: re-reads the
// YAML config file, validates and diffs it against the running
// configuration, and hot-reloads the registered components named by the
// changed config sections without a restart. The registered source registry
// ("sources") and permission matrix ("permissions") match no config
// section, so they are reloaded only when the changed fields name no
// component at all or when a failed reload is rolled back. Triggering this
// over HTTP mirrors what a SIGHUP does at the process level.
func (d *Deps) ConfigReload(w http.ResponseWriter, r *http.Request) {
	var req configReloadRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeAppErr(w, r, apperr.Validation(apperr.CodeValidationRequiredField, "invalid request body"))
			return
		}
	}

	configPath := req.ConfigPath
	if configPath == "" {
		configPath = d.ConfigPath
	}

	result, err := d.ConfigReload.ReloadFromFile(r.Context(), configPath)
	if err != nil {
		writeInternal(w, r, d.logger(), "config.reload", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ConfigHistory implements GET /ops/v1/admin/config/history: the most
// recent saved configuration versions, newest first.
func (d *Deps) ConfigHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	history, err := d.ConfigUpdates.GetHistory(r.Context(), limit)
	if err != nil {
		writeInternal(w, r, d.logger(), "config.history", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// ConfigRollback implements POST /ops/v1/admin/config/rollback/{version}:
// restores a previously saved configuration version and hot-reloads every
// affected component, the way a failed update's own rollback phase does.
func (d *Deps) ConfigRollback(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(mux.Vars(r)["version"], 10, 64)
	if err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.CodeValidationInvalidRange, "version must be an integer").WithField("version"))
		return
	}

	result, err := d.ConfigUpdates.RollbackConfig(r.Context(), version)
	if err != nil {
		writeInternal(w, r, d.logger(), "config.rollback", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
