package domain

import "time"

// SourceRow is one row returned by the Query Runner, already decoded into
// the shape §4.3 mandates: a bucket timestamp (source-local, not yet
// UTC-adjusted), one numeric measure, and up to 10 nullable segment
// values in declared order.
type SourceRow struct {
	BucketTime time.Time
	Measure    float64
	Segments   [MaxSegments]*string
}

// SignalCandidate is a pre-persistence SignalsHistory row produced by the
// Row Transformer's fold (§4.4), before a segmentCode has necessarily been
// assigned to every candidate sharing a dictionary miss.
type SignalCandidate struct {
	LoaderCode    string
	BucketTime    time.Time
	SegmentCode   int64
	RecCount      int64
	MinVal        float64
	MaxVal        float64
	SumVal        float64
}

// AvgVal computes the average the same way SignalsHistory does.
func (c *SignalCandidate) AvgVal() float64 {
	if c.RecCount == 0 {
		return 0
	}
	return c.SumVal / float64(c.RecCount)
}

// ToSignalsHistory materializes a terminal SignalsHistory row for a
// successful ingest, stamping the load history back-reference and create
// time.
func (c *SignalCandidate) ToSignalsHistory(loadHistoryID string, now time.Time) *SignalsHistory {
	return &SignalsHistory{
		LoaderCode:    c.LoaderCode,
		LoadTimeStamp: c.BucketTime.Unix(),
		SegmentCode:   c.SegmentCode,
		RecCount:      c.RecCount,
		MinVal:        c.MinVal,
		MaxVal:        c.MaxVal,
		SumVal:        c.SumVal,
		LoadHistoryID: loadHistoryID,
		CreateTime:    now,
	}
}
