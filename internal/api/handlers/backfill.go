package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/etl-signal-loader/internal/apperr"
	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/realtime"
)

type createBackfillRequest struct {
	FromTimeEpoch int64                `json:"fromTimeEpoch"`
	ToTimeEpoch   int64                `json:"toTimeEpoch"`
	PurgeStrategy domain.PurgeStrategy `json:"purgeStrategy"`
}

// CreateBackfill implements POST /api/v1/res/loaders/{code}/backfill: it
// only queues the job PENDING — a later RunNextBackfill call (the admin
// run-next endpoint) or the cmd/backfill worker actually performs it.
func (d *Deps) CreateBackfill(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.CodeAuthenticationFailed, "no authenticated user"))
		return
	}
	role := requireRole(user)
	code := mux.Vars(r)["code"]

	active, err := d.Loaders.GetActive(r.Context(), code)
	if err != nil {
		writeInternal(w, r, d.logger(), "backfill.create.lookup", err)
		return
	}
	if active == nil {
		writeAppErr(w, r, apperr.NotFound(apperr.CodeLoaderNotFound, "loader "+code))
		return
	}
	if !d.checkAllowed(w, r, role, active, domain.ActionForceStart) {
		return
	}

	var req createBackfillRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.CodeValidationRequiredField, "invalid request body"))
		return
	}
	if req.ToTimeEpoch <= req.FromTimeEpoch {
		writeAppErr(w, r, apperr.Validation(apperr.CodeValidationInvalidRange, "toTimeEpoch must be after fromTimeEpoch").WithField("toTimeEpoch"))
		return
	}
	if !req.PurgeStrategy.Valid() {
		writeAppErr(w, r, apperr.Validation(apperr.CodeValidationInvalidRange, "purgeStrategy is not one of the known values").WithField("purgeStrategy"))
		return
	}

	job, err := d.Backfill.Create(r.Context(), &domain.BackfillJob{
		LoaderCode:    code,
		FromTimeEpoch: req.FromTimeEpoch,
		ToTimeEpoch:   req.ToTimeEpoch,
		PurgeStrategy: req.PurgeStrategy,
		RequestedBy:   user.Username,
	})
	if err != nil {
		writeInternal(w, r, d.logger(), "backfill.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// ListBackfills implements GET /api/v1/res/loaders/{code}/backfill.
func (d *Deps) ListBackfills(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.CodeAuthenticationFailed, "no authenticated user"))
		return
	}
	role := requireRole(user)
	code := mux.Vars(r)["code"]

	active, err := d.Loaders.GetActive(r.Context(), code)
	if err != nil {
		writeInternal(w, r, d.logger(), "backfill.list.lookup", err)
		return
	}
	if active == nil {
		writeAppErr(w, r, apperr.NotFound(apperr.CodeLoaderNotFound, "loader "+code))
		return
	}
	if !d.checkAllowed(w, r, role, active, domain.ActionViewExecutionLog) {
		return
	}

	jobs, err := d.Backfill.ListByLoader(r.Context(), code, 50)
	if err != nil {
		writeInternal(w, r, d.logger(), "backfill.list", err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// CancelBackfill implements POST /api/v1/res/loaders/{code}/backfill/{id}/cancel.
func (d *Deps) CancelBackfill(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.CodeAuthenticationFailed, "no authenticated user"))
		return
	}
	role := requireRole(user)
	vars := mux.Vars(r)
	code, id := vars["code"], vars["id"]

	active, err := d.Loaders.GetActive(r.Context(), code)
	if err != nil {
		writeInternal(w, r, d.logger(), "backfill.cancel.lookup", err)
		return
	}
	if active == nil {
		writeAppErr(w, r, apperr.NotFound(apperr.CodeLoaderNotFound, "loader "+code))
		return
	}
	if !d.checkAllowed(w, r, role, active, domain.ActionForceStart) {
		return
	}

	job, err := d.Backfill.Cancel(r.Context(), id)
	if err != nil {
		writeInternal(w, r, d.logger(), "backfill.cancel", err)
		return
	}
	if job == nil {
		writeAppErr(w, r, apperr.NotFound(apperr.CodeBackfillJobNotFound, "pending backfill job "+id))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// RunNextBackfill claims the oldest PENDING job of any loader and runs it
// synchronously via Executor.RunBackfill. It backs the control API's
// manual POST .../backfill/run-next; cmd/backfill's polling worker claims
// and runs jobs through its own loop, not through this method.
func (d *Deps) RunNextBackfill(ctx context.Context) error {
	job, err := d.Backfill.ClaimNextPending(ctx)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	c, err := d.Loaders.GetActiveCandidate(ctx, job.LoaderCode)
	if err != nil {
		return err
	}
	if c == nil {
		errMsg := "loader has no ACTIVE version"
		err := d.Backfill.Finalize(ctx, job.ID, domain.BackfillFailed, 0, 0, &errMsg)
		d.publish(func(p *realtime.EventPublisher) error {
			return p.PublishBackfillFinished(job.ID, job.LoaderCode, domain.BackfillFailed, 0)
		})
		return err
	}

	from := time.Unix(job.FromTimeEpoch, 0).UTC()
	to := time.Unix(job.ToTimeEpoch, 0).UTC()

	loaded, ingested, _, runErr := d.Executor.RunBackfill(ctx, c.Loader, c.SourceDBCode, from, to, job.PurgeStrategy, time.Now().UTC())
	if runErr != nil {
		msg := runErr.Error()
		err := d.Backfill.Finalize(ctx, job.ID, domain.BackfillFailed, int(loaded), int(ingested), &msg)
		d.publish(func(p *realtime.EventPublisher) error {
			return p.PublishBackfillFinished(job.ID, job.LoaderCode, domain.BackfillFailed, int(ingested))
		})
		return err
	}
	err = d.Backfill.Finalize(ctx, job.ID, domain.BackfillSuccess, int(loaded), int(ingested), nil)
	d.publish(func(p *realtime.EventPublisher) error {
		return p.PublishBackfillFinished(job.ID, job.LoaderCode, domain.BackfillSuccess, int(ingested))
	})
	return err
}

// RunNextBackfillHandler implements POST /ops/v1/admin/backfill/run-next:
// an operator-triggered pull of RunNextBackfill, for environments that
// have not deployed the standalone cmd/backfill poller.
func (d *Deps) RunNextBackfillHandler(w http.ResponseWriter, r *http.Request) {
	if err := d.RunNextBackfill(r.Context()); err != nil {
		writeInternal(w, r, d.logger(), "backfill.run_next", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
