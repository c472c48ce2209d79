package domain

import "time"

// LoaderExecutionLock is one row per lock acquisition (§3, §4.6). At most
// one row per loaderCode may have Released=false at any consistent
// snapshot — this is the system's sole mutual-exclusion primitive.
type LoaderExecutionLock struct {
	LockID      string     `json:"lockId" db:"lock_id"`
	LoaderCode  string     `json:"loaderCode" db:"loader_code"`
	ReplicaName string     `json:"replicaName" db:"replica_name"`
	AcquiredAt  time.Time  `json:"acquiredAt" db:"acquired_at"`
	Released    bool       `json:"released" db:"released"`
	ReleasedAt  *time.Time `json:"releasedAt,omitempty" db:"released_at"`
	HistoryID   *string    `json:"historyId,omitempty" db:"history_id"`
	Version     int        `json:"version" db:"version"`
}
