package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
)

func strp(s string) *string { return &s }

func TestTupleCacheKey_StableAndDistinct(t *testing.T) {
	var a, b [domain.MaxSegments]*string
	a[0] = strp("X")
	b[0] = strp("X")

	assert.Equal(t, tupleCacheKey("L1", a), tupleCacheKey("L1", a), "same tuple must hash identically")
	assert.Equal(t, tupleCacheKey("L1", a), tupleCacheKey("L1", b), "equal tuples must hash identically across instances")

	b[1] = strp("Y")
	assert.NotEqual(t, tupleCacheKey("L1", a), tupleCacheKey("L1", b), "distinct tuples must not collide")

	assert.NotEqual(t, tupleCacheKey("L1", a), tupleCacheKey("L2", a), "loaderCode is part of the key")
}

func TestSegmentColumnList(t *testing.T) {
	cols := segmentColumnList()
	assert.Equal(t, "segment1, segment2, segment3, segment4, segment5, segment6, segment7, segment8, segment9, segment10", cols)
}
