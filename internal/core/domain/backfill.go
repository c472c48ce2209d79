package domain

import "time"

// BackfillStatus is the lifecycle state of a BackfillJob.
type BackfillStatus string

const (
	BackfillPending   BackfillStatus = "PENDING"
	BackfillRunning   BackfillStatus = "RUNNING"
	BackfillSuccess   BackfillStatus = "SUCCESS"
	BackfillFailed    BackfillStatus = "FAILED"
	BackfillCancelled BackfillStatus = "CANCELLED"
)

// BackfillJob is an operator-requested re-run of a loader over an explicit
// historical window (§3). It reuses the Loader Executor pipeline with a
// caller-supplied window instead of the Time Window Calculator's output.
type BackfillJob struct {
	ID            string         `json:"id" db:"id"`
	LoaderCode    string         `json:"loaderCode" db:"loader_code" validate:"required"`
	FromTimeEpoch int64          `json:"fromTimeEpoch" db:"from_time_epoch" validate:"required"`
	ToTimeEpoch   int64          `json:"toTimeEpoch" db:"to_time_epoch" validate:"required,gtfield=FromTimeEpoch"`
	PurgeStrategy PurgeStrategy  `json:"purgeStrategy" db:"purge_strategy" validate:"required"`
	Status        BackfillStatus `json:"status" db:"status"`

	RequestedBy string     `json:"requestedBy" db:"requested_by" validate:"required"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	StartedAt   *time.Time `json:"startedAt,omitempty" db:"started_at"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty" db:"finished_at"`

	RecordsLoaded   int     `json:"recordsLoaded" db:"records_loaded"`
	RecordsIngested int     `json:"recordsIngested" db:"records_ingested"`
	ErrorMessage    *string `json:"errorMessage,omitempty" db:"error_message"`
}
