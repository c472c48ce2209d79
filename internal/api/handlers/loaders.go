package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/etl-signal-loader/internal/apperr"
	"github.com/vitaliisemenov/etl-signal-loader/internal/configversioning"
	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/lock"
	"github.com/vitaliisemenov/etl-signal-loader/internal/realtime"
)

// publish is a nil-safe shim so handlers can fire-and-forget an event
// without checking Deps.Publisher on every call site.
func (d *Deps) publish(fn func(*realtime.EventPublisher) error) {
	if d.Publisher == nil {
		return
	}
	if err := fn(d.Publisher); err != nil {
		d.logger().Debug("event publish failed", "error", err)
	}
}

// ListLoaders implements GET /api/v1/res/loaders.
func (d *Deps) ListLoaders(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.CodeAuthenticationFailed, "no authenticated user"))
		return
	}
	role := requireRole(user)

	loaders, err := d.Loaders.ListActive(r.Context())
	if err != nil {
		writeInternal(w, r, d.logger(), "loaders.list", err)
		return
	}

	out := make([]loaderResponse, 0, len(loaders))
	for _, l := range loaders {
		out = append(out, d.renderLoader(role, l))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetLoader implements GET /api/v1/res/loaders/{code}.
func (d *Deps) GetLoader(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.CodeAuthenticationFailed, "no authenticated user"))
		return
	}
	role := requireRole(user)
	code := mux.Vars(r)["code"]

	l, err := d.Loaders.GetActive(r.Context(), code)
	if err != nil {
		writeInternal(w, r, d.logger(), "loaders.get", err)
		return
	}
	if l == nil {
		writeAppErr(w, r, apperr.NotFound(apperr.CodeLoaderNotFound, "loader "+code))
		return
	}
	writeJSON(w, http.StatusOK, d.renderLoader(role, *l))
}

type createLoaderRequest struct {
	Code                      string             `json:"loaderCode"`
	SQL                       string             `json:"loaderSql"`
	SourceDatabaseID          string             `json:"sourceDatabaseId"`
	MinIntervalSeconds        int                `json:"minIntervalSeconds"`
	MaxIntervalSeconds        int                `json:"maxIntervalSeconds"`
	MaxQueryPeriodSeconds     int                `json:"maxQueryPeriodSeconds"`
	MaxParallelExecutions     int                `json:"maxParallelExecutions"`
	SourceTimezoneOffsetHours int                `json:"sourceTimezoneOffsetHours"`
	AggregationPeriodSeconds  *int               `json:"aggregationPeriodSeconds,omitempty"`
	PurgeStrategy             domain.PurgeStrategy `json:"purgeStrategy"`
	Enabled                   bool               `json:"enabled"`
}

// CreateLoader implements POST /api/v1/res/loaders: creation always
// starts a DRAFT pending submission/approval (§4.11) — there is no way
// to stand up an ACTIVE loader without going through the workflow.
func (d *Deps) CreateLoader(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.CodeAuthenticationFailed, "no authenticated user"))
		return
	}
	role := requireRole(user)
	if role == domain.RoleViewer {
		writeAppErr(w, r, apperr.PermissionDenied("CREATE_LOADER is not permitted for role "+string(role)))
		return
	}

	var req createLoaderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.CodeValidationRequiredField, "invalid request body"))
		return
	}
	if req.Code == "" {
		writeAppErr(w, r, apperr.Validation(apperr.CodeValidationRequiredField, "loaderCode is required").WithField("loaderCode"))
		return
	}
	if !req.PurgeStrategy.Valid() {
		writeAppErr(w, r, apperr.Validation(apperr.CodeValidationInvalidRange, "purgeStrategy is not one of the known values").WithField("purgeStrategy"))
		return
	}

	draft, err := d.Versions.CreateNew(r.Context(), domain.Loader{
		Code:                      req.Code,
		SQL:                       req.SQL,
		SourceDatabaseID:          req.SourceDatabaseID,
		MinIntervalSeconds:        req.MinIntervalSeconds,
		MaxIntervalSeconds:        req.MaxIntervalSeconds,
		MaxQueryPeriodSeconds:     req.MaxQueryPeriodSeconds,
		MaxParallelExecutions:     req.MaxParallelExecutions,
		SourceTimezoneOffsetHours: req.SourceTimezoneOffsetHours,
		AggregationPeriodSeconds:  req.AggregationPeriodSeconds,
		PurgeStrategy:             req.PurgeStrategy,
		Enabled:                   req.Enabled,
	})
	if err != nil {
		if errors.Is(err, configversioning.ErrDraftPending) {
			writeAppErr(w, r, apperr.AlreadyExists(apperr.CodeLoaderAlreadyExists, "loader "+req.Code))
			return
		}
		writeInternal(w, r, d.logger(), "loaders.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, d.renderLoader(role, *draft))
}

type updateLoaderRequest struct {
	SQL                       *string               `json:"loaderSql"`
	SourceDatabaseID          *string               `json:"sourceDatabaseId"`
	MinIntervalSeconds        *int                  `json:"minIntervalSeconds"`
	MaxIntervalSeconds        *int                  `json:"maxIntervalSeconds"`
	MaxQueryPeriodSeconds     *int                  `json:"maxQueryPeriodSeconds"`
	MaxParallelExecutions     *int                  `json:"maxParallelExecutions"`
	SourceTimezoneOffsetHours *int                  `json:"sourceTimezoneOffsetHours"`
	AggregationPeriodSeconds  *int                  `json:"aggregationPeriodSeconds"`
	PurgeStrategy             *domain.PurgeStrategy `json:"purgeStrategy"`
	Enabled                   *bool                 `json:"enabled"`
	BaseVersionID             *string               `json:"baseVersionId,omitempty"`
	Submit                    bool                  `json:"submit"`
}

// UpdateLoader implements PUT /api/v1/res/loaders/{code}: writes or
// overwrites the pending draft for code, and optionally submits it for
// approval in the same call when submit=true.
func (d *Deps) UpdateLoader(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.CodeAuthenticationFailed, "no authenticated user"))
		return
	}
	role := requireRole(user)
	code := mux.Vars(r)["code"]

	active, err := d.Loaders.GetActive(r.Context(), code)
	if err != nil {
		writeInternal(w, r, d.logger(), "loaders.update.lookup", err)
		return
	}
	if active == nil {
		writeAppErr(w, r, apperr.NotFound(apperr.CodeLoaderNotFound, "loader "+code))
		return
	}
	if !d.checkAllowed(w, r, role, active, domain.ActionEditLoader) {
		return
	}

	var req updateLoaderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.CodeValidationRequiredField, "invalid request body"))
		return
	}
	if req.PurgeStrategy != nil && !req.PurgeStrategy.Valid() {
		writeAppErr(w, r, apperr.Validation(apperr.CodeValidationInvalidRange, "purgeStrategy is not one of the known values").WithField("purgeStrategy"))
		return
	}

	draft, err := d.Versions.CreateDraft(r.Context(), code, req.BaseVersionID, configversioning.Edits{
		SQL:                       req.SQL,
		SourceDatabaseID:          req.SourceDatabaseID,
		MinIntervalSeconds:        req.MinIntervalSeconds,
		MaxIntervalSeconds:        req.MaxIntervalSeconds,
		MaxQueryPeriodSeconds:     req.MaxQueryPeriodSeconds,
		MaxParallelExecutions:     req.MaxParallelExecutions,
		SourceTimezoneOffsetHours: req.SourceTimezoneOffsetHours,
		AggregationPeriodSeconds:  req.AggregationPeriodSeconds,
		PurgeStrategy:             req.PurgeStrategy,
		Enabled:                   req.Enabled,
	})
	if err != nil {
		if errors.Is(err, configversioning.ErrDraftPending) {
			writeAppErr(w, r, apperr.New(apperr.CodeValidationInvalidState, "a draft is already pending approval for "+code))
			return
		}
		writeInternal(w, r, d.logger(), "loaders.update.draft", err)
		return
	}

	if req.Submit {
		if err := d.Versions.Submit(r.Context(), draft.ID, user.Username); err != nil {
			writeInternal(w, r, d.logger(), "loaders.update.submit", err)
			return
		}
		draft.VersionStatus = domain.VersionPending
		draft.ApprovalStatus = domain.ApprovalPending
		d.publish(func(p *realtime.EventPublisher) error {
			return p.PublishLoaderApprovalEvent(realtime.EventTypeLoaderSubmitted, code, user.Username)
		})
	}

	writeJSON(w, http.StatusOK, d.renderLoader(role, *draft))
}

// DeleteLoader implements DELETE /api/v1/res/loaders/{code}: rejects any
// draft in flight and archives the ACTIVE row, which removes it from
// ListSchedulable/ListActive without deleting its run history.
func (d *Deps) DeleteLoader(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.CodeAuthenticationFailed, "no authenticated user"))
		return
	}
	role := requireRole(user)
	code := mux.Vars(r)["code"]

	active, err := d.Loaders.GetActive(r.Context(), code)
	if err != nil {
		writeInternal(w, r, d.logger(), "loaders.delete.lookup", err)
		return
	}
	if active == nil {
		writeAppErr(w, r, apperr.NotFound(apperr.CodeLoaderNotFound, "loader "+code))
		return
	}
	if !d.checkAllowed(w, r, role, active, domain.ActionDeleteLoader) {
		return
	}

	if err := d.Loaders.SetEnabledAndArchive(r.Context(), code); err != nil {
		writeInternal(w, r, d.logger(), "loaders.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleLoader implements PUT /api/v1/res/loaders/{code}/toggle.
func (d *Deps) ToggleLoader(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.CodeAuthenticationFailed, "no authenticated user"))
		return
	}
	role := requireRole(user)
	code := mux.Vars(r)["code"]

	active, err := d.Loaders.GetActive(r.Context(), code)
	if err != nil {
		writeInternal(w, r, d.logger(), "loaders.toggle.lookup", err)
		return
	}
	if active == nil {
		writeAppErr(w, r, apperr.NotFound(apperr.CodeLoaderNotFound, "loader "+code))
		return
	}
	if !d.checkAllowed(w, r, role, active, domain.ActionToggleEnabled) {
		return
	}

	l, err := d.Loaders.SetEnabled(r.Context(), code, !active.Enabled)
	if err != nil {
		writeInternal(w, r, d.logger(), "loaders.toggle", err)
		return
	}
	if l == nil {
		writeAppErr(w, r, apperr.NotFound(apperr.CodeLoaderNotFound, "loader "+code))
		return
	}
	d.publish(func(p *realtime.EventPublisher) error {
		return p.PublishLoaderToggled(code, l.Enabled, user.Username)
	})
	writeJSON(w, http.StatusOK, d.renderLoader(role, *l))
}

type executeResponse struct {
	LoaderCode      string `json:"loaderCode"`
	Outcome         string `json:"outcome"`
	RecordsLoaded   int64  `json:"recordsLoaded"`
	RecordsIngested int64  `json:"recordsIngested"`
}

// ExecuteLoader implements POST /api/v1/res/loaders/{code}/execute: a
// force-start that runs immediately on this replica, bypassing the
// scheduler's due/backoff check but still taking the normal lock.
func (d *Deps) ExecuteLoader(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.CodeAuthenticationFailed, "no authenticated user"))
		return
	}
	role := requireRole(user)
	code := mux.Vars(r)["code"]

	c, err := d.Loaders.GetActiveCandidate(r.Context(), code)
	if err != nil {
		writeInternal(w, r, d.logger(), "loaders.execute.lookup", err)
		return
	}
	if c == nil {
		writeAppErr(w, r, apperr.NotFound(apperr.CodeLoaderNotFound, "loader "+code))
		return
	}
	if !d.checkAllowed(w, r, role, &c.Loader, domain.ActionForceStart) {
		return
	}

	outcome, err := d.Executor.Run(r.Context(), *c, time.Now().UTC())
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			writeAppErr(w, r, apperr.New(apperr.CodeLoaderBusy, "loader "+code+" is already running on another replica"))
			return
		}
		writeInternal(w, r, d.logger(), "loaders.execute.run", err)
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{LoaderCode: code, Outcome: string(outcome)})
}

type approvalRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ApproveLoader implements POST /api/v1/res/loaders/{code}/approve.
func (d *Deps) ApproveLoader(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	d.decideDraft(w, r, domain.ActionApproveLoader, func(user string, draftID string, _ string) error {
		_, err := d.Versions.Approve(r.Context(), draftID, user)
		if err == nil {
			d.publish(func(p *realtime.EventPublisher) error {
				return p.PublishLoaderApprovalEvent(realtime.EventTypeLoaderApproved, code, user)
			})
		}
		return err
	})
}

// RejectLoader implements POST /api/v1/res/loaders/{code}/reject.
func (d *Deps) RejectLoader(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	d.decideDraft(w, r, domain.ActionRejectLoader, func(user string, draftID string, reason string) error {
		err := d.Versions.Reject(r.Context(), draftID, user, reason)
		if err == nil {
			d.publish(func(p *realtime.EventPublisher) error {
				return p.PublishLoaderApprovalEvent(realtime.EventTypeLoaderRejected, code, user)
			})
		}
		return err
	})
}

// decideDraft factors the approve/reject handlers: both look up the
// caller's pending draft by loaderCode, re-check state permissions, and
// apply a Manager mutation keyed by draftID.
func (d *Deps) decideDraft(w http.ResponseWriter, r *http.Request, action domain.ActionCode, apply func(user, draftID, reason string) error) {
	user, ok := currentUser(r)
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.CodeAuthenticationFailed, "no authenticated user"))
		return
	}
	role := requireRole(user)
	code := mux.Vars(r)["code"]

	pending, err := d.Versions.GetPendingByCode(r.Context(), code)
	if err != nil {
		writeInternal(w, r, d.logger(), "loaders.decide.lookup", err)
		return
	}
	if pending == nil {
		writeAppErr(w, r, apperr.NotFound(apperr.CodeDraftNotFound, "pending draft for "+code))
		return
	}
	if !d.checkAllowed(w, r, role, pending, action) {
		return
	}

	var req approvalRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeAppErr(w, r, apperr.Validation(apperr.CodeValidationRequiredField, "invalid request body"))
			return
		}
	}

	if err := apply(user.Username, pending.ID, req.Reason); err != nil {
		if errors.Is(err, configversioning.ErrNoDraft) {
			writeAppErr(w, r, apperr.NotFound(apperr.CodeDraftNotFound, "pending draft for "+code))
			return
		}
		writeInternal(w, r, d.logger(), "loaders.decide.apply", err)
		return
	}

	refreshed, err := d.Loaders.GetActive(r.Context(), code)
	if err != nil || refreshed == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, d.renderLoader(role, *refreshed))
}

type historyItem struct {
	domain.LoadHistory
}

// LoaderHistory implements GET /api/v1/res/loaders/{code}/history.
func (d *Deps) LoaderHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.CodeAuthenticationFailed, "no authenticated user"))
		return
	}
	role := requireRole(user)
	code := mux.Vars(r)["code"]

	active, err := d.Loaders.GetActive(r.Context(), code)
	if err != nil {
		writeInternal(w, r, d.logger(), "loaders.history.lookup", err)
		return
	}
	if active == nil {
		writeAppErr(w, r, apperr.NotFound(apperr.CodeLoaderNotFound, "loader "+code))
		return
	}
	if !d.checkAllowed(w, r, role, active, domain.ActionViewExecutionLog) {
		return
	}

	runs, err := d.History.ListByLoader(r.Context(), code, 50)
	if err != nil {
		writeInternal(w, r, d.logger(), "loaders.history.list", err)
		return
	}
	out := make([]historyItem, 0, len(runs))
	for _, h := range runs {
		out = append(out, historyItem{h})
	}
	writeJSON(w, http.StatusOK, out)
}
