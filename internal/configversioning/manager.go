// Package configversioning implements the Versioned Config Manager
// (SPEC_FULL.md §4.11): the Active/Draft/Archive workflow over
// loader.loader, paired with an audit trail in loader.approval_request,
// grounded on the teacher's template version-control repository
// (internal/infrastructure/template/repository_versions.go).
package configversioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
)

// ErrNoDraft is returned by Submit/Approve/Reject when the named draft does
// not exist or is not in an editable/pending state.
var ErrNoDraft = errors.New("configversioning: no matching draft")

// ErrNoActiveVersion is returned by CreateDraft/Rollback when a loaderCode
// has no version to branch from and none was given explicitly.
var ErrNoActiveVersion = errors.New("configversioning: no ACTIVE or base version found")

// ErrDraftPending is returned by CreateDraft when a loaderCode already has
// a PENDING_APPROVAL row: loader_one_draft_idx forbids a second DRAFT/
// PENDING_APPROVAL row per code, and a pending draft must be decided
// (approved/rejected) before a new one can be started.
var ErrDraftPending = errors.New("configversioning: a draft is already pending approval")

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}

// Edits carries the editable content fields of a loader version. Fields
// left nil/zero-value inherit the base version's value; enforcement of
// "enabled=true only admissible on ACTIVE" (§4.11) is applied at Approve
// time, not at draft-edit time.
type Edits struct {
	SQL                       *string
	SourceDatabaseID          *string
	MinIntervalSeconds        *int
	MaxIntervalSeconds        *int
	MaxQueryPeriodSeconds     *int
	MaxParallelExecutions     *int
	SourceTimezoneOffsetHours *int
	AggregationPeriodSeconds  *int
	PurgeStrategy             *domain.PurgeStrategy
	Enabled                   *bool
}

func applyEdits(base domain.Loader, e Edits) domain.Loader {
	out := base
	if e.SQL != nil {
		out.SQL = *e.SQL
	}
	if e.SourceDatabaseID != nil {
		out.SourceDatabaseID = *e.SourceDatabaseID
	}
	if e.MinIntervalSeconds != nil {
		out.MinIntervalSeconds = *e.MinIntervalSeconds
	}
	if e.MaxIntervalSeconds != nil {
		out.MaxIntervalSeconds = *e.MaxIntervalSeconds
	}
	if e.MaxQueryPeriodSeconds != nil {
		out.MaxQueryPeriodSeconds = *e.MaxQueryPeriodSeconds
	}
	if e.MaxParallelExecutions != nil {
		out.MaxParallelExecutions = *e.MaxParallelExecutions
	}
	if e.SourceTimezoneOffsetHours != nil {
		out.SourceTimezoneOffsetHours = *e.SourceTimezoneOffsetHours
	}
	if e.AggregationPeriodSeconds != nil {
		out.AggregationPeriodSeconds = e.AggregationPeriodSeconds
	}
	if e.PurgeStrategy != nil {
		out.PurgeStrategy = *e.PurgeStrategy
	}
	if e.Enabled != nil {
		out.Enabled = *e.Enabled
	}
	return out
}

// Manager implements the createDraft/approve/reject/rollback workflow.
type Manager struct {
	db     postgres.DatabaseConnection
	logger *slog.Logger
}

// New builds a Manager.
func New(db postgres.DatabaseConnection, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{db: db, logger: logger}
}

// CreateDraft implements §4.11's createDraft: if a DRAFT row already exists
// for code it is overwritten in place (its id is reused, so cumulative
// edits persist under one draft); otherwise a new row is branched from
// baseVersionID (or the current ACTIVE row when baseVersionID is nil). A
// PENDING_APPROVAL row is never overwritten: the insert then fails with
// ErrDraftPending.
func (m *Manager) CreateDraft(ctx context.Context, code string, baseVersionID *string, edits Edits) (*domain.Loader, error) {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("configversioning: begin create draft: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := scanLoaderOptional(tx.QueryRow(ctx, selectDraftSQL, code))
	if err != nil {
		return nil, fmt.Errorf("configversioning: check existing draft for %s: %w", code, err)
	}

	base, err := m.resolveBase(ctx, tx, code, baseVersionID)
	if err != nil {
		return nil, err
	}

	draft := applyEdits(*base, edits)
	draft.VersionStatus = domain.VersionDraft
	draft.ApprovalStatus = domain.ApprovalApproved // not yet submitted; not a pending change
	draft.LoadStatus = domain.LoadStatusPaused
	draft.LastLoadTimestamp = nil
	draft.FailedSince = nil
	draft.ConsecutiveZeroRecordRuns = 0
	draft.ConsecutiveFailures = 0
	draft.Code = code
	parentID := base.ID
	draft.ParentVersionID = &parentID

	if existing != nil {
		draft.ID = existing.ID
		draft.VersionNumber = existing.VersionNumber
		if err := scanLoader(tx.QueryRow(ctx, updateDraftSQL,
			draft.ID, draft.SQL, draft.SourceDatabaseID, draft.MinIntervalSeconds, draft.MaxIntervalSeconds,
			draft.MaxQueryPeriodSeconds, draft.MaxParallelExecutions, draft.SourceTimezoneOffsetHours,
			draft.AggregationPeriodSeconds, draft.PurgeStrategy, draft.Enabled, draft.ParentVersionID,
		), &draft); err != nil {
			return nil, fmt.Errorf("configversioning: overwrite draft for %s: %w", code, err)
		}
	} else {
		draft.VersionNumber = base.VersionNumber
		if err := scanLoader(tx.QueryRow(ctx, insertDraftSQL,
			draft.Code, draft.SQL, draft.SourceDatabaseID, draft.MinIntervalSeconds, draft.MaxIntervalSeconds,
			draft.MaxQueryPeriodSeconds, draft.MaxParallelExecutions, draft.SourceTimezoneOffsetHours,
			draft.AggregationPeriodSeconds, draft.PurgeStrategy, draft.Enabled, draft.VersionNumber, draft.ParentVersionID,
		), &draft); err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: %s", ErrDraftPending, code)
			}
			return nil, fmt.Errorf("configversioning: insert draft for %s: %w", code, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("configversioning: commit create draft: %w", err)
	}
	m.logger.Info("draft created", "loaderCode", code, "draftId", draft.ID, "reused", existing != nil)
	return &draft, nil
}

// CreateNew starts a brand-new loaderCode: a DRAFT row with no parent
// version, which Submit recognizes as an ApprovalRequestCreate rather
// than an ApprovalRequestUpdate. Unlike CreateDraft, it never resolves a
// base version — there is nothing to branch from for a code that has
// never existed. loaderstore.ListSchedulable/ListActive never see this
// row until it is approved.
func (m *Manager) CreateNew(ctx context.Context, l domain.Loader) (*domain.Loader, error) {
	l.VersionStatus = domain.VersionDraft
	l.ApprovalStatus = domain.ApprovalApproved
	l.LoadStatus = domain.LoadStatusPaused
	l.VersionNumber = 0
	l.ParentVersionID = nil

	var draft domain.Loader
	err := scanLoader(m.db.QueryRow(ctx, insertDraftSQL,
		l.Code, l.SQL, l.SourceDatabaseID, l.MinIntervalSeconds, l.MaxIntervalSeconds,
		l.MaxQueryPeriodSeconds, l.MaxParallelExecutions, l.SourceTimezoneOffsetHours,
		l.AggregationPeriodSeconds, l.PurgeStrategy, l.Enabled, l.VersionNumber, l.ParentVersionID,
	), &draft)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDraftPending, l.Code)
		}
		return nil, fmt.Errorf("configversioning: create new loader %s: %w", l.Code, err)
	}
	m.logger.Info("new loader drafted", "loaderCode", draft.Code, "draftId", draft.ID)
	return &draft, nil
}

// GetPendingByCode fetches the PENDING_APPROVAL row for code, if any, for
// the approve/reject handlers to re-derive state permissions against
// before acting. Returns nil, nil when no draft is out for review.
func (m *Manager) GetPendingByCode(ctx context.Context, code string) (*domain.Loader, error) {
	l, err := scanLoaderOptional(m.db.QueryRow(ctx, selectPendingByCodeSQL, code))
	if err != nil {
		return nil, fmt.Errorf("configversioning: get pending draft for %s: %w", code, err)
	}
	return l, nil
}

// resolveBase finds the version to branch a draft or rollback from: the
// explicit baseVersionID if given, otherwise the current ACTIVE row.
func (m *Manager) resolveBase(ctx context.Context, tx pgx.Tx, code string, baseVersionID *string) (*domain.Loader, error) {
	if baseVersionID != nil {
		base, err := scanLoaderOptional(tx.QueryRow(ctx, selectByIDSQL, *baseVersionID))
		if err != nil {
			return nil, fmt.Errorf("configversioning: resolve base version %s: %w", *baseVersionID, err)
		}
		if base == nil {
			return nil, fmt.Errorf("%w: base version %s", ErrNoActiveVersion, *baseVersionID)
		}
		return base, nil
	}
	base, err := scanLoaderOptional(tx.QueryRow(ctx, selectActiveSQL, code))
	if err != nil {
		return nil, fmt.Errorf("configversioning: resolve active version for %s: %w", code, err)
	}
	if base == nil {
		return nil, fmt.Errorf("%w: loaderCode %s", ErrNoActiveVersion, code)
	}
	return base, nil
}

// Submit implements §4.11's "on submit, status becomes PENDING_APPROVAL":
// it flips the draft row and opens an audit trail row in
// loader.approval_request.
func (m *Manager) Submit(ctx context.Context, draftID, requestedBy string) error {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("configversioning: begin submit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	draft, err := scanLoaderOptional(tx.QueryRow(ctx, selectDraftByIDSQL, draftID))
	if err != nil {
		return fmt.Errorf("configversioning: load draft %s: %w", draftID, err)
	}
	if draft == nil {
		return fmt.Errorf("%w: %s", ErrNoDraft, draftID)
	}

	requestData, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("configversioning: marshal draft snapshot: %w", err)
	}
	requestType := domain.ApprovalRequestUpdate
	if draft.ParentVersionID == nil {
		requestType = domain.ApprovalRequestCreate
	}

	if _, err := tx.Exec(ctx, submitDraftSQL, draftID); err != nil {
		return fmt.Errorf("configversioning: submit draft %s: %w", draftID, err)
	}
	if _, err := tx.Exec(ctx, insertApprovalRequestSQL, draftID, requestType, requestData, requestedBy); err != nil {
		return fmt.Errorf("configversioning: record approval request for %s: %w", draftID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("configversioning: commit submit: %w", err)
	}
	m.logger.Info("draft submitted for approval", "draftId", draftID, "requestedBy", requestedBy)
	return nil
}

// Approve implements §4.11's approve: archive the current ACTIVE row,
// promote the draft to ACTIVE with versionNumber = max(existing)+1, and
// close out the matching approval_request row. Only one approval path
// exists — there is no separate "fast-track" promotion.
func (m *Manager) Approve(ctx context.Context, draftID, admin string) (*domain.Loader, error) {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("configversioning: begin approve: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	draft, err := scanLoaderOptional(tx.QueryRow(ctx, selectPendingByIDSQL, draftID))
	if err != nil {
		return nil, fmt.Errorf("configversioning: load pending draft %s: %w", draftID, err)
	}
	if draft == nil {
		return nil, fmt.Errorf("%w: %s not PENDING_APPROVAL", ErrNoDraft, draftID)
	}

	if _, err := tx.Exec(ctx, archiveActiveSQL, draft.Code); err != nil {
		return nil, fmt.Errorf("configversioning: archive current active for %s: %w", draft.Code, err)
	}

	var nextVersion int
	if err := tx.QueryRow(ctx, maxVersionSQL, draft.Code).Scan(&nextVersion); err != nil {
		return nil, fmt.Errorf("configversioning: compute next version for %s: %w", draft.Code, err)
	}
	nextVersion++

	now := time.Now().UTC()
	if err := scanLoader(tx.QueryRow(ctx, promoteDraftSQL, draftID, nextVersion, admin, now), draft); err != nil {
		return nil, fmt.Errorf("configversioning: promote draft %s: %w", draftID, err)
	}

	if _, err := tx.Exec(ctx, closeApprovalRequestSQL, draftID, domain.ApprovalApproved, admin, now, nil); err != nil {
		return nil, fmt.Errorf("configversioning: close approval request for %s: %w", draftID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("configversioning: commit approve: %w", err)
	}
	m.logger.Info("draft approved", "loaderCode", draft.Code, "draftId", draftID, "versionNumber", nextVersion, "admin", admin)
	return draft, nil
}

// Reject implements §4.11's reject: the draft becomes an immutable
// ARCHIVED row with approvalStatus=REJECTED; resubmission requires a new
// draft via CreateDraft.
func (m *Manager) Reject(ctx context.Context, draftID, admin, reason string) error {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("configversioning: begin reject: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, rejectDraftSQL, draftID, admin)
	if err != nil {
		return fmt.Errorf("configversioning: reject draft %s: %w", draftID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s not PENDING_APPROVAL", ErrNoDraft, draftID)
	}

	if _, err := tx.Exec(ctx, closeApprovalRequestSQL, draftID, domain.ApprovalRejected, admin, time.Now().UTC(), &reason); err != nil {
		return fmt.Errorf("configversioning: close approval request for %s: %w", draftID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("configversioning: commit reject: %w", err)
	}
	m.logger.Info("draft rejected", "draftId", draftID, "admin", admin, "reason", reason)
	return nil
}

// Rollback implements §4.11's rollback: a new draft branched from an
// archived version, which then follows the normal submit/approve path.
func (m *Manager) Rollback(ctx context.Context, code string, targetVersionNumber int, requestedBy string) (*domain.Loader, error) {
	var targetID string
	if err := m.db.QueryRow(ctx, selectArchivedVersionSQL, code, targetVersionNumber).Scan(&targetID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s version %d", ErrNoActiveVersion, code, targetVersionNumber)
		}
		return nil, fmt.Errorf("configversioning: find archived version %s/%d: %w", code, targetVersionNumber, err)
	}
	return m.CreateDraft(ctx, code, &targetID, Edits{})
}
