package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
	"github.com/vitaliisemenov/etl-signal-loader/internal/loaderstore"
)

type fakeStore struct {
	mu         sync.Mutex
	candidates []loaderstore.Candidate
}

func (f *fakeStore) ListSchedulable(ctx context.Context) ([]loaderstore.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]loaderstore.Candidate, len(f.candidates))
	copy(out, f.candidates)
	return out, nil
}

type fakeRunner struct {
	calls    int32
	runFunc  func(c loaderstore.Candidate) (string, error)
	blockers sync.WaitGroup
}

func (f *fakeRunner) Run(ctx context.Context, c loaderstore.Candidate, now time.Time) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.runFunc != nil {
		return f.runFunc(c)
	}
	return "SUCCESS", nil
}

func dueLoader(code string) loaderstore.Candidate {
	return loaderstore.Candidate{
		Loader: domain.Loader{
			Code: code, Enabled: true, VersionStatus: domain.VersionActive,
			LoadStatus: domain.LoadStatusIdle, MaxIntervalSeconds: 60,
		},
		SourceDBCode: "SRC1",
	}
}

func TestTick_SubmitsDueLoaderExactlyOnce(t *testing.T) {
	store := &fakeStore{candidates: []loaderstore.Candidate{dueLoader("L1")}}
	runner := &fakeRunner{}
	s := New(store, runner, Config{Workers: 1, QueueSize: 5}, nil)

	s.tick(context.Background())
	assert.Len(t, s.jobs, 1)

	s.tick(context.Background())
	assert.Len(t, s.jobs, 1, "already in-flight loader must not be resubmitted")
}

func TestTick_SkipsLoaderNotDue(t *testing.T) {
	recent := time.Now()
	c := dueLoader("L1")
	c.Loader.LastLoadTimestamp = &recent
	store := &fakeStore{candidates: []loaderstore.Candidate{c}}
	runner := &fakeRunner{}
	s := New(store, runner, Config{Workers: 1, QueueSize: 5}, nil)

	s.tick(context.Background())
	assert.Len(t, s.jobs, 0)
}

func TestSortByPriority_TighterScheduleWinsTies(t *testing.T) {
	loose := dueLoader("LOOSE")
	loose.Loader.MaxIntervalSeconds = 300
	tight := dueLoader("TIGHT")
	tight.Loader.MaxIntervalSeconds = 30

	candidates := []loaderstore.Candidate{loose, tight}
	sortByPriority(candidates)

	require.Len(t, candidates, 2)
	assert.Equal(t, "TIGHT", candidates[0].Loader.Code)
}

func TestSortByPriority_OldestWatermarkFirstOnTie(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	a := dueLoader("A")
	a.Loader.LastLoadTimestamp = &newer
	b := dueLoader("B")
	b.Loader.LastLoadTimestamp = &older

	candidates := []loaderstore.Candidate{a, b}
	sortByPriority(candidates)

	assert.Equal(t, "B", candidates[0].Loader.Code)
}

func TestStartStop_DrainsQueuedJob(t *testing.T) {
	store := &fakeStore{candidates: []loaderstore.Candidate{dueLoader("L1")}}
	var done sync.WaitGroup
	done.Add(1)
	runner := &fakeRunner{runFunc: func(c loaderstore.Candidate) (string, error) {
		defer done.Done()
		return "SUCCESS", nil
	}}

	s := New(store, runner, Config{Workers: 2, QueueSize: 5, PollInterval: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	done.Wait()
	require.NoError(t, s.Stop(time.Second))

	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))
}

func TestBackoff_CapsAtConfiguredMaximum(t *testing.T) {
	s := New(&fakeStore{}, &fakeRunner{}, Config{BackoffBase: time.Second, BackoffCap: 4 * time.Second}, nil)

	farPast := time.Now().Add(-time.Hour)
	assert.Equal(t, 4*time.Second, s.backoff(farPast))
}
