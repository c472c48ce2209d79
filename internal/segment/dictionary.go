// Package segment implements the Segment Dictionary (SPEC_FULL.md §4.5): a
// durable, concurrency-safe mapping from (loaderCode, up-to-10 segment
// values) to a dense, monotonically-assigned segmentCode, fronted by an
// in-process LRU and a Redis read-through cache.
package segment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
	"github.com/vitaliisemenov/etl-signal-loader/internal/infrastructure/cache"
)

// nullSentinel is the value coalesced in place of SQL NULL segment slots so
// the durable unique index treats absent segments as equal to each other
// (§4.5's "treating NULLs as equal by coalescing to a sentinel").
const nullSentinel = "\x00"

// redisTTL bounds how long a resolved segmentCode is cached in Redis; the
// durable table remains the source of truth, so a cache miss just costs a
// round trip, not correctness.
const redisTTL = 30 * time.Minute

// Dictionary is the Segment Dictionary. It is safe for concurrent use.
type Dictionary struct {
	db        postgres.DatabaseConnection
	redis     cache.Cache
	local     *lru.Cache[string, int64]
	logger    *slog.Logger
}

// Config controls the in-process LRU size.
type Config struct {
	LocalCacheSize int
}

// New builds a Dictionary. redisCache may be nil, in which case only the
// in-process LRU fronts the durable table.
func New(db postgres.DatabaseConnection, redisCache cache.Cache, cfg Config, logger *slog.Logger) (*Dictionary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.LocalCacheSize
	if size <= 0 {
		size = 10_000
	}
	local, err := lru.New[string, int64](size)
	if err != nil {
		return nil, fmt.Errorf("segment: create local cache: %w", err)
	}
	return &Dictionary{db: db, redis: redisCache, local: local, logger: logger}, nil
}

// Intern implements §4.5: the same tuple always resolves to the same code;
// codes are dense and assigned in first-seen order per loader; concurrent
// first-callers converge on one code via the durable unique index.
func (d *Dictionary) Intern(ctx context.Context, loaderCode string, segments [domain.MaxSegments]*string) (int64, error) {
	tupleKey := tupleCacheKey(loaderCode, segments)

	if code, ok := d.local.Get(tupleKey); ok {
		return code, nil
	}

	if d.redis != nil {
		var code int64
		if err := d.redis.Get(ctx, tupleKey, &code); err == nil {
			d.local.Add(tupleKey, code)
			return code, nil
		} else if !cache.IsNotFound(err) {
			d.logger.Warn("segment cache read failed, falling through to durable store", "error", err)
		}
	}

	code, err := d.internDurable(ctx, loaderCode, segments)
	if err != nil {
		return 0, err
	}

	d.local.Add(tupleKey, code)
	if d.redis != nil {
		if err := d.redis.Set(ctx, tupleKey, code, redisTTL); err != nil {
			d.logger.Warn("segment cache write failed", "error", err)
		}
	}
	return code, nil
}

// internDurable resolves the tuple against the postgres-backed intern
// table, relying on a unique index over (loader_code, segment1..segment10)
// with coalesced NULLs. A losing concurrent insert re-reads the winner's
// row, converging both callers on the same code.
func (d *Dictionary) internDurable(ctx context.Context, loaderCode string, segments [domain.MaxSegments]*string) (int64, error) {
	coalesced := make([]string, domain.MaxSegments)
	args := make([]interface{}, 0, domain.MaxSegments+2)
	args = append(args, loaderCode)
	for i, s := range segments {
		if s == nil {
			coalesced[i] = nullSentinel
		} else {
			coalesced[i] = *s
		}
		args = append(args, coalesced[i])
	}

	var code int64
	err := d.db.QueryRow(ctx, selectExistingSQL, args...).Scan(&code)
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("segment: lookup existing tuple: %w", err)
	}

	// Ensure a per-loader code counter exists before allocating from it.
	if _, err := d.db.Exec(ctx, ensureCounterSQL, loaderCode); err != nil {
		return 0, fmt.Errorf("segment: ensure code counter: %w", err)
	}

	err = d.db.QueryRow(ctx, insertNextCodeSQL, args...).Scan(&code)
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("segment: insert new tuple: %w", err)
	}

	// The allocating UPDATE committed a code that the subsequent INSERT's
	// conflict target rejected: a concurrent caller won the same tuple
	// first. Re-read the winner's row; the code this caller allocated but
	// didn't use is a permanently skipped gap, which §4.5 permits (only
	// density of *assigned* codes matters, not contiguity under races).
	d.logger.Debug("segment intern conflict, re-reading winning row", "loaderCode", loaderCode)
	err = d.db.QueryRow(ctx, selectExistingSQL, args...).Scan(&code)
	if err != nil {
		return 0, fmt.Errorf("segment: re-read after conflict: %w", err)
	}
	return code, nil
}

// tupleCacheKey is stable across process restarts (unlike a map iteration
// order) and bounded in length regardless of segment value size.
func tupleCacheKey(loaderCode string, segments [domain.MaxSegments]*string) string {
	h := sha256.New()
	h.Write([]byte(loaderCode))
	for _, s := range segments {
		h.Write([]byte{0})
		if s != nil {
			h.Write([]byte(*s))
		}
	}
	return "segment:" + hex.EncodeToString(h.Sum(nil))
}

func segmentColumnList() string {
	cols := make([]string, domain.MaxSegments)
	for i := range cols {
		cols[i] = "segment" + strconv.Itoa(i+1)
	}
	return strings.Join(cols, ", ")
}

var (
	selectExistingSQL = fmt.Sprintf(
		`SELECT segment_code FROM signals.segment_combination
		 WHERE loader_code = $1 AND (%s) = ($2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		segmentColumnList())

	ensureCounterSQL = `INSERT INTO signals.segment_code_counter (loader_code, next_code)
		 VALUES ($1, 1) ON CONFLICT (loader_code) DO NOTHING`

	insertNextCodeSQL = fmt.Sprintf(
		`WITH allocated AS (
		     UPDATE signals.segment_code_counter SET next_code = next_code + 1
		     WHERE loader_code = $1 RETURNING next_code - 1 AS code
		 )
		 INSERT INTO signals.segment_combination (loader_code, %s, segment_code)
		 SELECT $1, $2,$3,$4,$5,$6,$7,$8,$9,$10,$11, allocated.code FROM allocated
		 ON CONFLICT (loader_code, segment1, segment2, segment3, segment4, segment5,
		              segment6, segment7, segment8, segment9, segment10) DO NOTHING
		 RETURNING segment_code`,
		segmentColumnList())
)
