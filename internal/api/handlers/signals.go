package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/etl-signal-loader/internal/apperr"
	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/signalstore"
)

// GetSignals implements GET /api/v1/res/signals/signal/{code}: a bounded
// window query over the aggregated series the Ingest Service wrote,
// optionally narrowed to one segment combination.
func (d *Deps) GetSignals(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.CodeAuthenticationFailed, "no authenticated user"))
		return
	}
	role := requireRole(user)
	code := mux.Vars(r)["code"]

	active, err := d.Loaders.GetActive(r.Context(), code)
	if err != nil {
		writeInternal(w, r, d.logger(), "signals.get.lookup", err)
		return
	}
	if active == nil {
		writeAppErr(w, r, apperr.NotFound(apperr.CodeLoaderNotFound, "loader "+code))
		return
	}
	if !d.checkAllowed(w, r, role, active, domain.ActionViewSignals) {
		return
	}

	q := r.URL.Query()
	from, err := strconv.ParseInt(q.Get("fromTimeEpoch"), 10, 64)
	if err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.CodeValidationRequiredField, "fromTimeEpoch is required").WithField("fromTimeEpoch"))
		return
	}
	to, err := strconv.ParseInt(q.Get("toTimeEpoch"), 10, 64)
	if err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.CodeValidationRequiredField, "toTimeEpoch is required").WithField("toTimeEpoch"))
		return
	}

	var segmentCode *int64
	if raw := q.Get("segmentCode"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeAppErr(w, r, apperr.Validation(apperr.CodeValidationInvalidRange, "segmentCode must be an integer").WithField("segmentCode"))
			return
		}
		segmentCode = &v
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}

	rows, err := d.Signals.Query(r.Context(), signalstore.Query{
		LoaderCode:  code,
		FromEpoch:   from,
		ToEpoch:     to,
		SegmentCode: segmentCode,
		Limit:       limit,
	})
	if err != nil {
		writeInternal(w, r, d.logger(), "signals.get.query", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// GetSegments implements GET /api/v1/res/signals/segments/{code}: the
// segment combinations that have ever been observed for this loader, so
// a caller can discover valid segmentCode values for GetSignals.
func (d *Deps) GetSegments(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.CodeAuthenticationFailed, "no authenticated user"))
		return
	}
	role := requireRole(user)
	code := mux.Vars(r)["code"]

	active, err := d.Loaders.GetActive(r.Context(), code)
	if err != nil {
		writeInternal(w, r, d.logger(), "signals.segments.lookup", err)
		return
	}
	if active == nil {
		writeAppErr(w, r, apperr.NotFound(apperr.CodeLoaderNotFound, "loader "+code))
		return
	}
	if !d.checkAllowed(w, r, role, active, domain.ActionViewSignals) {
		return
	}

	segments, err := d.Signals.Segments(r.Context(), code)
	if err != nil {
		writeInternal(w, r, d.logger(), "signals.segments.list", err)
		return
	}
	writeJSON(w, http.StatusOK, segments)
}
