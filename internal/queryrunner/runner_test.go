package queryrunner

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstitutePlaceholders_AppliesTimezoneOffset(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)

	rendered := substitutePlaceholders("SELECT * FROM t WHERE ts >= :fromTime AND ts < :toTime", 3, from, to)
	assert.Equal(t, "SELECT * FROM t WHERE ts >= '2026-01-01 03:00:00' AND ts < '2026-01-01 04:00:00'", rendered)
}

func TestSubstitutePlaceholders_NegativeOffset(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)

	rendered := substitutePlaceholders(":fromTime..:toTime", -5, from, to)
	assert.Equal(t, "'2025-12-31 19:00:00'..'2025-12-31 20:00:00'", rendered)
}

func TestDecodeRows_MeasureAndSegments(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE readings (ts DATETIME, measure REAL, seg1 TEXT, seg2 TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO readings VALUES
		('2026-01-01 00:00:00', 10.5, 'eu', NULL),
		('2026-01-01 00:05:00', 20.0, 'eu', 'prod')`)
	require.NoError(t, err)

	rows, err := db.Query(`SELECT ts, measure, seg1, seg2 FROM readings ORDER BY ts`)
	require.NoError(t, err)
	defer rows.Close()

	decoded, err := decodeRows(rows)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	assert.Equal(t, 10.5, decoded[0].Measure)
	require.NotNil(t, decoded[0].Segments[0])
	assert.Equal(t, "eu", *decoded[0].Segments[0])
	assert.Nil(t, decoded[0].Segments[1])

	assert.Equal(t, 20.0, decoded[1].Measure)
	require.NotNil(t, decoded[1].Segments[1])
	assert.Equal(t, "prod", *decoded[1].Segments[1])
}

func TestDecodeRows_TooFewColumnsRejected(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE t (ts DATETIME)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO t VALUES ('2026-01-01 00:00:00')`)
	require.NoError(t, err)

	rows, err := db.Query(`SELECT ts FROM t`)
	require.NoError(t, err)
	defer rows.Close()

	_, err = decodeRows(rows)
	require.Error(t, err)
}
