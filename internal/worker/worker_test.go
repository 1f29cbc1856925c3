package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytedeck/unlock-engine/internal/config"
	"github.com/bytedeck/unlock-engine/internal/content"
	"github.com/bytedeck/unlock-engine/internal/queue"
	"github.com/bytedeck/unlock-engine/internal/tenant"
)

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []*queue.Job
}

func (q *fakeQueue) Enqueue(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, job)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context, _ time.Duration) (*queue.Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Millisecond):
		return nil, queue.ErrEmpty
	}
}

func (q *fakeQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.enqueued)), nil
}

func (q *fakeQueue) all() []*queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*queue.Job(nil), q.enqueued...)
}

type fakeTenants struct {
	tenants map[int64]*tenant.Tenant // rows as the database holds them
	cached  map[int64]*tenant.Tenant // stale L1 entries served by ByID
}

func (f *fakeTenants) ByID(_ context.Context, id int64) (*tenant.Tenant, error) {
	if tn, ok := f.cached[id]; ok {
		return tn, nil
	}
	if tn, ok := f.tenants[id]; ok {
		return tn, nil
	}
	return nil, tenant.ErrNotFound
}

func (f *fakeTenants) Reload(_ context.Context, id int64) (*tenant.Tenant, error) {
	if tn, ok := f.tenants[id]; ok {
		return tn, nil
	}
	return nil, tenant.ErrNotFound
}

func (f *fakeTenants) BySlug(context.Context, string) (*tenant.Tenant, error) {
	return nil, tenant.ErrNotFound
}
func (f *fakeTenants) SetActiveSemester(context.Context, int64, int64) error { return nil }
func (f *fakeTenants) SetAutoUpdate(context.Context, int64, bool) error      { return nil }

type recomputeCall struct {
	kind     queue.JobKind
	userID   int64
	target   content.Ref
	cursor   int64
	semester int64
}

type fakeRecomputer struct {
	mu    sync.Mutex
	calls []recomputeCall

	userErr          error
	targetErr        error
	targetNext       int64
	targetMore       bool
	userPages        [][]int64
	pageErr          error
	panics           bool
	blockUntilCancel bool
}

func (f *fakeRecomputer) RecomputeUser(ctx context.Context, tn *tenant.Tenant, userID int64) error {
	if f.panics {
		panic("boom")
	}
	if f.blockUntilCancel {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	f.calls = append(f.calls, recomputeCall{kind: queue.JobRecomputeUser, userID: userID, semester: tn.ActiveSemesterID})
	f.mu.Unlock()
	return f.userErr
}

func (f *fakeRecomputer) RecomputeTargetPage(_ context.Context, _ *tenant.Tenant, target content.Ref, afterID int64, _ int) (int64, bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recomputeCall{kind: queue.JobRecomputeTarget, target: target, cursor: afterID})
	f.mu.Unlock()
	return f.targetNext, f.targetMore, f.targetErr
}

func (f *fakeRecomputer) UserIDsPage(_ context.Context, _ *tenant.Tenant, _ int64, _ int) ([]int64, error) {
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.userPages) == 0 {
		return nil, nil
	}
	page := f.userPages[0]
	f.userPages = f.userPages[1:]
	return page, nil
}

func (f *fakeRecomputer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() *config.EngineConfig {
	return &config.EngineConfig{
		BatchSize:         3,
		RetryMax:          2,
		RetryBackoff:      time.Millisecond,
		JobTimeout:        time.Second,
		WorkerConcurrency: 2,
		DequeueTimeout:    10 * time.Millisecond,
	}
}

func newTestWorker(q *fakeQueue, rc *fakeRecomputer) *Worker {
	tenants := &fakeTenants{tenants: map[int64]*tenant.Tenant{
		1: {ID: 1, Slug: "hackerspace", AutoUpdateEnabled: true},
	}}
	return New(q, tenants, rc, testConfig(), slog.Default())
}

func TestWorker_UserJobRecomputesUser(t *testing.T) {
	q := &fakeQueue{}
	rc := &fakeRecomputer{}
	w := newTestWorker(q, rc)

	w.process(context.Background(), slog.Default(), queue.NewUserJob(1, 42))

	require.Len(t, rc.calls, 1)
	assert.Equal(t, int64(42), rc.calls[0].userID)
	assert.Empty(t, q.all())
}

func TestWorker_UnknownTenantDropsJob(t *testing.T) {
	q := &fakeQueue{}
	rc := &fakeRecomputer{}
	w := newTestWorker(q, rc)

	w.process(context.Background(), slog.Default(), queue.NewUserJob(99, 42))

	assert.Zero(t, rc.callCount())
	assert.Empty(t, q.all())
}

func TestWorker_TargetJobEnqueuesContinuation(t *testing.T) {
	q := &fakeQueue{}
	rc := &fakeRecomputer{targetNext: 300, targetMore: true}
	w := newTestWorker(q, rc)

	target := content.Ref{Kind: content.KindQuest, ID: 7}
	w.process(context.Background(), slog.Default(), queue.NewTargetJob(1, target, 0))

	require.Len(t, rc.calls, 1)
	assert.Equal(t, target, rc.calls[0].target)

	jobs := q.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.JobRecomputeTarget, jobs[0].Kind)
	assert.Equal(t, int64(300), jobs[0].Cursor)
	require.NotNil(t, jobs[0].Target)
	assert.Equal(t, target, *jobs[0].Target)
}

func TestWorker_TargetJobFinishesWithoutContinuation(t *testing.T) {
	q := &fakeQueue{}
	rc := &fakeRecomputer{targetMore: false}
	w := newTestWorker(q, rc)

	w.process(context.Background(), slog.Default(),
		queue.NewTargetJob(1, content.Ref{Kind: content.KindQuest, ID: 7}, 300))

	assert.Empty(t, q.all())
}

func TestWorker_TenantJobFansOutUserJobs(t *testing.T) {
	q := &fakeQueue{}
	// Full page of BatchSize users, so a continuation is expected.
	rc := &fakeRecomputer{userPages: [][]int64{{10, 11, 12}}}
	w := newTestWorker(q, rc)

	w.process(context.Background(), slog.Default(), queue.NewTenantJob(1, 0))

	jobs := q.all()
	require.Len(t, jobs, 4)
	for i, userID := range []int64{10, 11, 12} {
		assert.Equal(t, queue.JobRecomputeUser, jobs[i].Kind)
		assert.Equal(t, userID, jobs[i].UserID)
	}
	assert.Equal(t, queue.JobRecomputeTenant, jobs[3].Kind)
	assert.Equal(t, int64(12), jobs[3].Cursor)
}

func TestWorker_TenantJobShortPageEndsFanout(t *testing.T) {
	q := &fakeQueue{}
	rc := &fakeRecomputer{userPages: [][]int64{{10, 11}}}
	w := newTestWorker(q, rc)

	w.process(context.Background(), slog.Default(), queue.NewTenantJob(1, 12))

	jobs := q.all()
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		assert.Equal(t, queue.JobRecomputeUser, job.Kind)
	}
}

func TestWorker_TransientErrorRetriesWithIncrementedAttempt(t *testing.T) {
	q := &fakeQueue{}
	rc := &fakeRecomputer{userErr: errors.New("connection reset")}
	w := newTestWorker(q, rc)

	job := queue.NewUserJob(1, 42)
	w.process(context.Background(), slog.Default(), job)

	jobs := q.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Attempt)
	assert.Equal(t, job.ID, jobs[0].ID)
}

func TestWorker_RetryCeilingGivesUp(t *testing.T) {
	q := &fakeQueue{}
	rc := &fakeRecomputer{userErr: errors.New("connection reset")}
	w := newTestWorker(q, rc)

	job := queue.NewUserJob(1, 42)
	job.Attempt = 2 // already at RetryMax
	w.process(context.Background(), slog.Default(), job)

	assert.Empty(t, q.all())
}

func TestWorker_NonTransientErrorDoesNotRetry(t *testing.T) {
	q := &fakeQueue{}
	rc := &fakeRecomputer{userErr: content.ErrUnknownKind}
	w := newTestWorker(q, rc)

	w.process(context.Background(), slog.Default(), queue.NewUserJob(1, 42))

	assert.Empty(t, q.all())
}

func TestWorker_MalformedJobsAreDropped(t *testing.T) {
	q := &fakeQueue{}
	rc := &fakeRecomputer{}
	w := newTestWorker(q, rc)

	userJob := queue.NewUserJob(1, 42)
	userJob.UserID = 0
	w.process(context.Background(), slog.Default(), userJob)

	targetJob := queue.NewTargetJob(1, content.Ref{Kind: "trophy", ID: 7}, 0)
	w.process(context.Background(), slog.Default(), targetJob)

	assert.Zero(t, rc.callCount())
	assert.Empty(t, q.all())
}

func TestWorker_UnknownJobKindIsDropped(t *testing.T) {
	q := &fakeQueue{}
	rc := &fakeRecomputer{}
	w := newTestWorker(q, rc)

	w.process(context.Background(), slog.Default(), &queue.Job{
		ID:       "j1",
		TenantID: 1,
		Kind:     "defragment",
	})

	assert.Zero(t, rc.callCount())
	assert.Empty(t, q.all())
}

func TestWorker_ShutdownHandsBackInFlightJob(t *testing.T) {
	q := &fakeQueue{}
	rc := &fakeRecomputer{blockUntilCancel: true}
	w := newTestWorker(q, rc)

	ctx, cancel := context.WithCancel(context.Background())
	job := queue.NewUserJob(1, 42)

	done := make(chan struct{})
	go func() {
		w.process(ctx, slog.Default(), job)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("process did not return after cancellation")
	}

	jobs := q.all()
	require.Len(t, jobs, 1, "the interrupted job must be handed back")
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.Zero(t, jobs[0].Attempt, "a hand-back is not a retry")
}

func TestWorker_ShutdownDuringBackoffHandsBackJob(t *testing.T) {
	q := &fakeQueue{}
	rc := &fakeRecomputer{userErr: errors.New("connection reset")}
	w := newTestWorker(q, rc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := queue.NewUserJob(1, 42)
	w.process(ctx, slog.Default(), job)

	jobs := q.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.Equal(t, 1, jobs[0].Attempt)
}

func TestWorker_JobBindsThroughFreshTenantRead(t *testing.T) {
	q := &fakeQueue{}
	rc := &fakeRecomputer{}
	tenants := &fakeTenants{
		tenants: map[int64]*tenant.Tenant{
			1: {ID: 1, Slug: "hackerspace", AutoUpdateEnabled: true, ActiveSemesterID: 2},
		},
		cached: map[int64]*tenant.Tenant{
			1: {ID: 1, Slug: "hackerspace", AutoUpdateEnabled: true, ActiveSemesterID: 1},
		},
	}
	w := New(q, tenants, rc, testConfig(), slog.Default())

	w.process(context.Background(), slog.Default(), queue.NewUserJob(1, 42))

	require.Len(t, rc.calls, 1)
	assert.Equal(t, int64(2), rc.calls[0].semester,
		"the job must bind to the current semester, not a stale cached one")
}

func TestWorker_PanicInJobIsContained(t *testing.T) {
	q := &fakeQueue{}
	rc := &fakeRecomputer{panics: true}
	w := newTestWorker(q, rc)

	assert.NotPanics(t, func() {
		w.process(context.Background(), slog.Default(), queue.NewUserJob(1, 42))
	})
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	q := &fakeQueue{}
	rc := &fakeRecomputer{}
	w := newTestWorker(q, rc)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}

func TestBackoff(t *testing.T) {
	base := time.Second

	assert.Equal(t, time.Second, backoff(base, 1))
	assert.Equal(t, 2*time.Second, backoff(base, 2))
	assert.Equal(t, 4*time.Second, backoff(base, 3))
	assert.Equal(t, 16*time.Second, backoff(base, 5))
	assert.Equal(t, maxBackoff, backoff(base, 6))
	assert.Equal(t, maxBackoff, backoff(base, 50))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "unknown kind is final", err: content.ErrUnknownKind, want: false},
		{name: "missing tenant is final", err: tenant.ErrNotFound, want: false},
		{name: "malformed job is final", err: errMalformedJob, want: false},
		{name: "cancellation is final", err: context.Canceled, want: false},
		{name: "deadline is retryable", err: context.DeadlineExceeded, want: true},
		{name: "wrapped domain error is final", err: fmt.Errorf("attain count: %w", content.ErrUnknownKind), want: false},
		{name: "unclassified defaults to retryable", err: errors.New("connection reset by peer"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}
