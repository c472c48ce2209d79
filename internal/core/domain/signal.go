package domain

import "time"

// SignalsHistory is one aggregated signal row, the unit the Ingest Service
// writes and the HTTP signals-query surface reads (§3, §4.4, §4.8).
type SignalsHistory struct {
	ID            string    `json:"id" db:"id"`
	LoaderCode    string    `json:"loaderCode" db:"loader_code"`
	LoadTimeStamp int64     `json:"loadTimeStamp" db:"load_time_stamp"`
	SegmentCode   int64     `json:"segmentCode" db:"segment_code"`
	RecCount      int64     `json:"recCount" db:"rec_count"`
	MinVal        float64   `json:"minVal" db:"min_val"`
	MaxVal        float64   `json:"maxVal" db:"max_val"`
	SumVal        float64   `json:"sumVal" db:"sum_val"`
	LoadHistoryID string    `json:"loadHistoryId" db:"load_history_id"`
	CreateTime    time.Time `json:"createTime" db:"create_time"`
}

// AvgVal computes the average on read rather than storing it, matching
// §4.4's "avg = sum/recCount computed at emit".
func (s *SignalsHistory) AvgVal() float64 {
	if s.RecCount == 0 {
		return 0
	}
	return s.SumVal / float64(s.RecCount)
}

// Key returns the dedup key the Ingest Service compares against existing
// rows (§4.8's `K = {(loaderCode, loadTimeStamp, segmentCode)}`).
func (s *SignalsHistory) Key() SignalKey {
	return SignalKey{LoaderCode: s.LoaderCode, LoadTimeStamp: s.LoadTimeStamp, SegmentCode: s.SegmentCode}
}

// SignalKey is the comparable identity of a SignalsHistory row used for
// purge-strategy duplicate detection.
type SignalKey struct {
	LoaderCode    string
	LoadTimeStamp int64
	SegmentCode   int64
}

// MaxSegments is the maximum number of segment dimensions a row may carry
// (§3: "up to 10 segment values").
const MaxSegments = 10

// SegmentCombination maps a loader-scoped segmentCode to its up-to-10
// segment values (§4.5). Unused trailing slots are nil.
type SegmentCombination struct {
	LoaderCode  string      `json:"loaderCode" db:"loader_code"`
	SegmentCode int64       `json:"segmentCode" db:"segment_code"`
	Segments    [MaxSegments]*string `json:"segments" db:"-"`
}
