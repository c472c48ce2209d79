package configversioning

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
)

func TestApplyEdits_LeavesUnsetFieldsUntouched(t *testing.T) {
	base := domain.Loader{
		Code: "L1", SQL: "SELECT 1", MinIntervalSeconds: 10, MaxIntervalSeconds: 60,
		PurgeStrategy: domain.PurgeSkipDuplicates, Enabled: true,
	}

	out := applyEdits(base, Edits{})

	assert.Equal(t, base, out)
}

func TestApplyEdits_OverridesOnlySetFields(t *testing.T) {
	base := domain.Loader{
		Code: "L1", SQL: "SELECT 1", MinIntervalSeconds: 10, MaxIntervalSeconds: 60,
		PurgeStrategy: domain.PurgeSkipDuplicates, Enabled: true,
	}

	newSQL := "SELECT 2"
	disabled := false
	out := applyEdits(base, Edits{SQL: &newSQL, Enabled: &disabled})

	assert.Equal(t, "SELECT 2", out.SQL)
	assert.False(t, out.Enabled)
	assert.Equal(t, 10, out.MinIntervalSeconds, "untouched fields must survive")
	assert.Equal(t, domain.PurgeSkipDuplicates, out.PurgeStrategy)
}
