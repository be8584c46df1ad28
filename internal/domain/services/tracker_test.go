package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/athebyme/gomarket-sync/internal/adapters/logger"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pollStep struct {
	status models.JobStatus
	items  []models.ItemResult
	err    error
}

// scriptedPoller отвечает шагами сценария, последний шаг повторяется
type scriptedPoller struct {
	mu    sync.Mutex
	steps []pollStep
	times []time.Time
}

func (p *scriptedPoller) Marketplace() models.Marketplace { return mpA }

func (p *scriptedPoller) PollJob(_ context.Context, job models.BatchJob) (models.BatchJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	step := p.steps[min(len(p.times), len(p.steps)-1)]
	p.times = append(p.times, time.Now())
	if step.err != nil {
		return job, step.err
	}
	job.Status = step.status
	job.Items = step.items
	return job, nil
}

func (p *scriptedPoller) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.times)
}

func newJob() models.BatchJob {
	return models.NewBatchJob(mpA, "job-1", models.IntentStockPrice, []string{"RUG-42"})
}

func fastTracker(initial, maxDelay, budget time.Duration) *Tracker {
	return NewTracker(TrackerConfig{InitialDelay: initial, MaxDelay: maxDelay, Budget: budget}, logger.NewNopLogger())
}

func TestTracker_BackoffDoublesToCeiling(t *testing.T) {
	p := &scriptedPoller{steps: []pollStep{
		{status: models.JobInProgress}, {status: models.JobInProgress}, {status: models.JobInProgress},
		{status: models.JobInProgress}, {status: models.JobSucceeded},
	}}
	start := time.Now()

	job := fastTracker(10*time.Millisecond, 40*time.Millisecond, time.Second).Track(context.Background(), p, newJob())

	assert.Equal(t, models.JobSucceeded, job.Status)
	assert.Equal(t, 5, job.Polls)
	require.Len(t, p.times, 5)
	assert.GreaterOrEqual(t, p.times[0].Sub(start), 10*time.Millisecond)
	expected := []time.Duration{20, 40, 40, 40}
	for i, want := range expected {
		assert.GreaterOrEqual(t, p.times[i+1].Sub(p.times[i]), want*time.Millisecond, "gap %d", i)
	}
}

func TestTracker_ThrottleIsNotTerminal(t *testing.T) {
	throttled := apperrors.Newf(apperrors.KindTransient, string(mpA), "poll", "429")
	p := &scriptedPoller{steps: []pollStep{
		{err: throttled}, {err: throttled}, {status: models.JobSucceeded, items: []models.ItemResult{{StockCode: "RUG-42", Status: models.ItemSucceeded}}},
	}}

	job := fastTracker(time.Millisecond, 2*time.Millisecond, time.Second).Track(context.Background(), p, newJob())

	assert.Equal(t, models.JobSucceeded, job.Status)
	assert.Equal(t, 3, p.calls())
	require.Len(t, job.Items, 1)
}

func TestTracker_BudgetExpires(t *testing.T) {
	p := &scriptedPoller{steps: []pollStep{{status: models.JobInProgress}}}
	start := time.Now()

	job := fastTracker(5*time.Millisecond, 10*time.Millisecond, 50*time.Millisecond).Track(context.Background(), p, newJob())

	assert.Equal(t, models.JobTimedOut, job.Status)
	assert.Equal(t, apperrors.KindTimeout, job.ErrKind)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	polls := p.calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, polls, p.calls(), "terminal job is not polled again")
}

func TestTracker_CancelMarksTimedOut(t *testing.T) {
	p := &scriptedPoller{steps: []pollStep{{status: models.JobInProgress}}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	job := fastTracker(5*time.Millisecond, 5*time.Millisecond, time.Minute).Track(ctx, p, newJob())

	assert.Equal(t, models.JobTimedOut, job.Status)
	assert.Equal(t, apperrors.KindCancelled, job.ErrKind)
}

func TestTracker_FailedJobKeepsItemReasons(t *testing.T) {
	p := &scriptedPoller{steps: []pollStep{{status: models.JobFailed, items: []models.ItemResult{
		{StockCode: "RUG-42", Status: models.ItemFailed, Kind: apperrors.KindItemRejected, Reason: "Kategori bulunamadı"},
	}}}}

	job := fastTracker(time.Millisecond, time.Millisecond, time.Second).Track(context.Background(), p, newJob())

	assert.Equal(t, models.JobFailed, job.Status)
	require.Len(t, job.Items, 1)
	assert.Equal(t, "Kategori bulunamadı", job.Items[0].Reason)
}

func TestTracker_AuthErrorFailsJob(t *testing.T) {
	p := &scriptedPoller{steps: []pollStep{{err: apperrors.Newf(apperrors.KindAuth, string(mpA), "poll", "401")}}}

	job := fastTracker(time.Millisecond, time.Millisecond, time.Second).Track(context.Background(), p, newJob())

	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, apperrors.KindAuth, job.ErrKind)
	assert.Equal(t, 1, p.calls())
}

func TestTracker_TrackAllKeepsOrder(t *testing.T) {
	p := &scriptedPoller{steps: []pollStep{{status: models.JobSucceeded}}}
	jobs := []models.BatchJob{
		models.NewBatchJob(mpA, "j1", models.IntentStockPrice, nil),
		models.NewBatchJob(mpA, "j2", models.IntentStockPrice, nil),
		models.NewBatchJob(mpA, "j3", models.IntentStockPrice, nil),
	}

	out := fastTracker(time.Millisecond, time.Millisecond, time.Second).TrackAll(context.Background(), p, jobs)

	require.Len(t, out, 3)
	for i, j := range out {
		assert.Equal(t, jobs[i].ExternalID, j.ExternalID)
		assert.Equal(t, models.JobSucceeded, j.Status)
	}
}
