package domain

import "time"

// HistoryStatus is the terminal (or in-flight) status of a LoadHistory row.
type HistoryStatus string

const (
	HistoryRunning HistoryStatus = "RUNNING"
	HistorySuccess HistoryStatus = "SUCCESS"
	HistoryFailed  HistoryStatus = "FAILED"
	HistoryPartial HistoryStatus = "PARTIAL"
)

// LoadHistory is one append-only row per run (§3, §4.7). A row is written
// once as RUNNING on lock acquisition and updated exactly once to a
// terminal status, except when the reaper finalizes an abandoned RUNNING
// row to FAILED.
type LoadHistory struct {
	ID            string        `json:"id" db:"id"`
	LoaderCode    string        `json:"loaderCode" db:"loader_code" validate:"required"`
	LoaderVersion int           `json:"loaderVersion" db:"loader_version"`
	Status        HistoryStatus `json:"status" db:"status"`
	ReplicaName   string        `json:"replicaName" db:"replica_name" validate:"required"`

	StartTime time.Time  `json:"startTime" db:"start_time"`
	EndTime   *time.Time `json:"endTime,omitempty" db:"end_time"`

	QueryFromTime  time.Time  `json:"queryFromTime" db:"query_from_time"`
	QueryToTime    time.Time  `json:"queryToTime" db:"query_to_time"`
	ActualFromTime *time.Time `json:"actualFromTime,omitempty" db:"actual_from_time"`
	ActualToTime   *time.Time `json:"actualToTime,omitempty" db:"actual_to_time"`

	DurationSeconds *float64 `json:"durationSeconds,omitempty" db:"duration_seconds"`
	RecordsLoaded   int      `json:"recordsLoaded" db:"records_loaded"`
	RecordsIngested int      `json:"recordsIngested" db:"records_ingested"`
	ErrorMessage    *string  `json:"errorMessage,omitempty" db:"error_message"`
}

// Finalize mutates h in place into a terminal record. Callers persist the
// result inside the finalize-history storage transaction (§5).
func (h *LoadHistory) Finalize(status HistoryStatus, end time.Time, recordsLoaded, recordsIngested int, errMsg *string) {
	h.Status = status
	h.EndTime = &end
	d := end.Sub(h.StartTime).Seconds()
	h.DurationSeconds = &d
	h.RecordsLoaded = recordsLoaded
	h.RecordsIngested = recordsIngested
	h.ErrorMessage = errMsg
}
