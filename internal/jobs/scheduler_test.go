package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int64
	err   error
	panic bool
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(_ context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("boom")
	}
	return j.err
}

func TestScheduler_RunsJobsAndStops(t *testing.T) {
	s := NewScheduler(testMetrics(), quietLogger())
	job := &countingJob{name: "ticker"}
	s.AddPeriodic(job, 10*time.Millisecond)

	loopStarted := make(chan struct{})
	s.AddLoop("venue", func(ctx context.Context) error {
		close(loopStarted)
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	select {
	case <-loopStarted:
	case <-time.After(time.Second):
		t.Fatal("loop never started")
	}
	require.Eventually(t, func() bool { return job.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not shut down")
	}
}

func TestScheduler_SurvivesPanicsAndErrors(t *testing.T) {
	s := NewScheduler(testMetrics(), quietLogger())
	panicking := &countingJob{name: "panics", panic: true}
	failing := &countingJob{name: "fails", err: errors.New("nope")}
	s.AddPeriodic(panicking, 10*time.Millisecond)
	s.AddPeriodic(failing, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	// Both keep cycling despite failing every time.
	require.Eventually(t, func() bool {
		return panicking.runs.Load() >= 2 && failing.runs.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	s.Wait()
	assert.GreaterOrEqual(t, panicking.runs.Load(), int64(2))
}
