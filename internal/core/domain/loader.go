// Package domain holds the entities of the loader execution core: Loader,
// SourceDatabase, LoadHistory, LoaderExecutionLock, SignalsHistory,
// SegmentCombination, BackfillJob and ApprovalRequest.
package domain

import "time"

// PurgeStrategy selects how the Ingest Service handles pre-existing rows in
// an ingest window.
type PurgeStrategy string

const (
	PurgeFailOnDuplicate PurgeStrategy = "FAIL_ON_DUPLICATE"
	PurgeAndReload       PurgeStrategy = "PURGE_AND_RELOAD"
	PurgeSkipDuplicates  PurgeStrategy = "SKIP_DUPLICATES"
)

func (p PurgeStrategy) Valid() bool {
	switch p {
	case PurgeFailOnDuplicate, PurgeAndReload, PurgeSkipDuplicates:
		return true
	default:
		return false
	}
}

// LoadStatus is the runtime status of a loader.
type LoadStatus string

const (
	LoadStatusIdle    LoadStatus = "IDLE"
	LoadStatusRunning LoadStatus = "RUNNING"
	LoadStatusFailed  LoadStatus = "FAILED"
	LoadStatusPaused  LoadStatus = "PAUSED"
)

// VersionStatus is the position of a loader configuration row in the
// Active/Draft/Archive versioning workflow.
type VersionStatus string

const (
	VersionActive  VersionStatus = "ACTIVE"
	VersionDraft   VersionStatus = "DRAFT"
	VersionPending VersionStatus = "PENDING_APPROVAL"
	VersionArchive VersionStatus = "ARCHIVED"
)

// ApprovalStatus tracks the outcome of the approval workflow for a loader
// version or a generic ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING_APPROVAL"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Loader is one row per configuration version of an ETL job.
//
// loaderCode is the stable business key shared across all versions of the
// same job; versionNumber/versionStatus/parentVersionID track the
// Active/Draft/Archive workflow on top of it (§4.11).
type Loader struct {
	ID     string `json:"id" db:"id"`
	Code   string `json:"loaderCode" db:"loader_code" validate:"required,min=1,max=64,uppercase_underscore"`
	SQL    string `json:"loaderSql" db:"loader_sql" validate:"required"`
	SourceDatabaseID string `json:"sourceDatabaseId" db:"source_database_id" validate:"required"`

	MinIntervalSeconds       int  `json:"minIntervalSeconds" db:"min_interval_seconds" validate:"required,gt=0"`
	MaxIntervalSeconds       int  `json:"maxIntervalSeconds" db:"max_interval_seconds" validate:"required,gt=0"`
	MaxQueryPeriodSeconds    int  `json:"maxQueryPeriodSeconds" db:"max_query_period_seconds" validate:"required,gt=0"`
	MaxParallelExecutions    int  `json:"maxParallelExecutions" db:"max_parallel_executions" validate:"required,gte=1"`
	SourceTimezoneOffsetHours int `json:"sourceTimezoneOffsetHours" db:"source_timezone_offset_hours" validate:"gte=-12,lte=14"`

	// AggregationPeriodSeconds is descriptive metadata only (see
	// Open Question decision in DESIGN.md) — not authoritative for the Row
	// Transformer's fold key.
	AggregationPeriodSeconds *int `json:"aggregationPeriodSeconds,omitempty" db:"aggregation_period_seconds"`

	PurgeStrategy PurgeStrategy `json:"purgeStrategy" db:"purge_strategy" validate:"required"`
	Enabled       bool          `json:"enabled" db:"enabled"`

	LoadStatus                LoadStatus `json:"loadStatus" db:"load_status"`
	LastLoadTimestamp          *time.Time `json:"lastLoadTimestamp,omitempty" db:"last_load_timestamp"`
	FailedSince                *time.Time `json:"failedSince,omitempty" db:"failed_since"`
	ConsecutiveZeroRecordRuns  int        `json:"consecutiveZeroRecordRuns" db:"consecutive_zero_record_runs" validate:"gte=0"`
	ConsecutiveFailures        int        `json:"consecutiveFailures" db:"consecutive_failures" validate:"gte=0"`

	VersionStatus   VersionStatus  `json:"versionStatus" db:"version_status"`
	VersionNumber   int            `json:"versionNumber" db:"version_number"`
	ParentVersionID *string        `json:"parentVersionId,omitempty" db:"parent_version_id"`
	ApprovalStatus  ApprovalStatus `json:"approvalStatus" db:"approval_status"`
	ApprovedBy      *string        `json:"approvedBy,omitempty" db:"approved_by"`
	ApprovedAt      *time.Time     `json:"approvedAt,omitempty" db:"approved_at"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Due reports whether the loader should be considered for scheduling at
// `now`, per §4.9 step 2. It does not check lock availability or worker
// pool capacity — that is the Scheduler's job.
func (l *Loader) Due(now time.Time, backoff func(failedSince time.Time) time.Duration) bool {
	if l.VersionStatus != VersionActive || !l.Enabled {
		return false
	}
	switch l.LoadStatus {
	case LoadStatusIdle:
		// fallthrough to the interval check below
	case LoadStatusFailed:
		if l.FailedSince == nil {
			return true
		}
		if now.Sub(*l.FailedSince) < backoff(*l.FailedSince) {
			return false
		}
	default:
		return false
	}

	if l.LastLoadTimestamp == nil {
		return true
	}
	return now.Sub(*l.LastLoadTimestamp) >= time.Duration(l.MaxIntervalSeconds)*time.Second
}
