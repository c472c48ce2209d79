package transform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
)

type fakeInterner struct {
	codes map[string]int64
	next  int64
}

func newFakeInterner() *fakeInterner {
	return &fakeInterner{codes: make(map[string]int64)}
}

func (f *fakeInterner) Intern(_ context.Context, loaderCode string, segments [domain.MaxSegments]*string) (int64, error) {
	key := loaderCode
	for _, s := range segments {
		if s != nil {
			key += "|" + *s
		} else {
			key += "|<nil>"
		}
	}
	if code, ok := f.codes[key]; ok {
		return code, nil
	}
	f.next++
	f.codes[key] = f.next
	return f.next, nil
}

func seg(values ...string) [domain.MaxSegments]*string {
	var out [domain.MaxSegments]*string
	for i, v := range values {
		v := v
		out[i] = &v
	}
	return out
}

func TestTransformer_Transform_FoldsSameSegmentAndBucket(t *testing.T) {
	interner := newFakeInterner()
	tr := New(interner)

	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	rows := []domain.SourceRow{
		{BucketTime: base, Measure: 1.0, Segments: seg("A", "B")},
		{BucketTime: base, Measure: 3.0, Segments: seg("A", "B")},
		{BucketTime: base.Add(time.Minute), Measure: 2.0, Segments: seg("A", "B")},
	}

	result, err := tr.Transform(context.Background(), "L1", 0, rows)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 2)

	first := result.Candidates[0]
	assert.Equal(t, int64(2), first.RecCount)
	assert.Equal(t, 1.0, first.MinVal)
	assert.Equal(t, 3.0, first.MaxVal)
	assert.Equal(t, 4.0, first.SumVal)
	assert.InDelta(t, 2.0, first.AvgVal(), 1e-9)

	assert.Equal(t, base, *result.ObservedFrom)
	assert.Equal(t, base.Add(time.Minute), *result.ObservedTo)
}

func TestTransformer_Transform_AppliesTimezoneOffset(t *testing.T) {
	interner := newFakeInterner()
	tr := New(interner)

	sourceLocal := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rows := []domain.SourceRow{{BucketTime: sourceLocal, Measure: 5.0, Segments: seg("X")}}

	result, err := tr.Transform(context.Background(), "L1", 3, rows)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, sourceLocal.Add(-3*time.Hour), result.Candidates[0].BucketTime)
}

func TestTransformer_Transform_DistinctSegmentsDoNotFold(t *testing.T) {
	interner := newFakeInterner()
	tr := New(interner)

	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	rows := []domain.SourceRow{
		{BucketTime: base, Measure: 1.0, Segments: seg("A")},
		{BucketTime: base, Measure: 2.0, Segments: seg("B")},
	}

	result, err := tr.Transform(context.Background(), "L1", 0, rows)
	require.NoError(t, err)
	assert.Len(t, result.Candidates, 2)
}
