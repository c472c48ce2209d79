// Package transform implements the Row Transformer (SPEC_FULL.md §4.4):
// converts source rows into folded SignalsHistory candidates, interning
// segment tuples via a Segment Dictionary.
package transform

import (
	"context"
	"time"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
)

// Interner is the subset of the Segment Dictionary contract the
// transformer needs (§4.5).
type Interner interface {
	Intern(ctx context.Context, loaderCode string, segments [domain.MaxSegments]*string) (int64, error)
}

// Transformer folds source rows into SignalsHistory candidates.
type Transformer struct {
	interner Interner
}

// New builds a Transformer backed by the given Segment Dictionary.
func New(interner Interner) *Transformer {
	return &Transformer{interner: interner}
}

// Result is the output of a single Transform call: folded candidates plus
// the observed min/max bucket times, which the executor reports as
// LoadHistory.ActualFromTime/ActualToTime.
type Result struct {
	Candidates     []*domain.SignalCandidate
	ObservedFrom   *time.Time
	ObservedTo     *time.Time
}

// Transform implements §4.4: each row's bucket timestamp is first
// converted to UTC by subtracting tzOffsetHours, then folded into the
// existing candidate for its (segmentCode, bucketTimestamp), or becomes a
// new one.
func (t *Transformer) Transform(ctx context.Context, loaderCode string, tzOffsetHours int, rows []domain.SourceRow) (*Result, error) {
	offset := time.Duration(tzOffsetHours) * time.Hour
	folded := make(map[foldKey]*domain.SignalCandidate)
	order := make([]foldKey, 0, len(rows))

	var observedFrom, observedTo *time.Time

	for _, row := range rows {
		bucketUTC := row.BucketTime.Add(-offset).UTC()

		if observedFrom == nil || bucketUTC.Before(*observedFrom) {
			b := bucketUTC
			observedFrom = &b
		}
		if observedTo == nil || bucketUTC.After(*observedTo) {
			b := bucketUTC
			observedTo = &b
		}

		segmentCode, err := t.interner.Intern(ctx, loaderCode, row.Segments)
		if err != nil {
			return nil, err
		}

		key := foldKey{segmentCode: segmentCode, bucketUnix: bucketUTC.Unix()}
		cand, ok := folded[key]
		if !ok {
			cand = &domain.SignalCandidate{
				LoaderCode:  loaderCode,
				BucketTime:  bucketUTC,
				SegmentCode: segmentCode,
				MinVal:      row.Measure,
				MaxVal:      row.Measure,
			}
			folded[key] = cand
			order = append(order, key)
		}
		cand.RecCount++
		cand.SumVal += row.Measure
		if row.Measure < cand.MinVal {
			cand.MinVal = row.Measure
		}
		if row.Measure > cand.MaxVal {
			cand.MaxVal = row.Measure
		}
	}

	candidates := make([]*domain.SignalCandidate, 0, len(order))
	for _, key := range order {
		candidates = append(candidates, folded[key])
	}

	return &Result{Candidates: candidates, ObservedFrom: observedFrom, ObservedTo: observedTo}, nil
}

type foldKey struct {
	segmentCode int64
	bucketUnix  int64
}
