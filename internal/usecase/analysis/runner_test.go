package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deltadrift/internal/domain/drift"
	"deltadrift/internal/ports"
)

type fakeJob struct {
	id string

	mu      sync.Mutex
	acked   bool
	retried bool
}

func (j *fakeJob) DriftEventID() string { return j.id }

func (j *fakeJob) Ack(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.acked = true
	return nil
}

func (j *fakeJob) Retry(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.retried = true
	return nil
}

func (j *fakeJob) state() (acked bool, retried bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.acked, j.retried
}

type fakeSource struct {
	mu      sync.Mutex
	jobs    []ports.Job
	drained chan struct{}
	once    sync.Once
}

func (s *fakeSource) Fetch(ctx context.Context) ([]ports.Job, error) {
	s.mu.Lock()
	if len(s.jobs) > 0 {
		batch := s.jobs
		s.jobs = nil
		s.mu.Unlock()
		return batch, nil
	}
	s.mu.Unlock()

	s.once.Do(func() { close(s.drained) })

	// Block like a real pull subscription with a fetch deadline.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(50 * time.Millisecond):
		return nil, nil
	}
}

type fakeSubscriber struct {
	source *fakeSource
}

func (s *fakeSubscriber) Subscribe(_ context.Context) (ports.JobSource, error) {
	return s.source, nil
}

var errDiffForced = errors.New("forced diff failure")

// failingMirror fails Diff for one head commit and delegates everything else.
type failingMirror struct {
	*stubMirror
	failHeadSHA string
}

func (m *failingMirror) Diff(ctx context.Context, fullName string, baseSHA string, headSHA string) ([]string, error) {
	if headSHA == m.failHeadSHA {
		return nil, errDiffForced
	}
	return m.stubMirror.Diff(ctx, fullName, baseSHA, headSHA)
}

func TestRunnerAcksSuccessAndRetriesFailure(t *testing.T) {
	f := setupAnalysis(t)
	f.svc = NewService(f.svc.uow, f.drifts, &failingMirror{stubMirror: f.mirror, failHeadSHA: "deadbeef"}, f.github)

	good := f.newEvent(t, nil)
	goodJob := &fakeJob{id: good.ID}

	// No backing row: stale delivery, acked and dropped.
	staleJob := &fakeJob{id: "stale-event-id"}

	failing, err := f.drifts.CreateDriftEvent(context.Background(), ports.DriftEventCreate{
		RepoID:     f.repoID,
		PRNumber:   18,
		BaseBranch: "main",
		HeadBranch: "feature/y",
		BaseSHA:    "aaa111",
		HeadSHA:    "deadbeef",
	})
	if err != nil {
		t.Fatalf("create failing event: %v", err)
	}
	failingJob := &fakeJob{id: failing.ID}

	source := &fakeSource{
		jobs:    []ports.Job{goodJob, staleJob, failingJob},
		drained: make(chan struct{}),
	}
	runner := NewRunner(&fakeSubscriber{source: source}, f.svc, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Cancel only once every job reached a terminal ack/retry, so slow
	// workers are not interrupted mid-run.
	go func() {
		for {
			settled := true
			for _, job := range []*fakeJob{goodJob, staleJob, failingJob} {
				if acked, retried := job.state(); !acked && !retried {
					settled = false
					break
				}
			}
			if settled {
				cancel()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v", err)
	}

	if acked, retried := goodJob.state(); !acked || retried {
		t.Fatalf("good job acked=%v retried=%v", acked, retried)
	}
	if acked, retried := staleJob.state(); !acked || retried {
		t.Fatalf("stale job acked=%v retried=%v", acked, retried)
	}
	if acked, retried := failingJob.state(); acked || !retried {
		t.Fatalf("failing job acked=%v retried=%v", acked, retried)
	}

	got, err := f.drifts.GetDriftEvent(context.Background(), good.ID)
	if err != nil {
		t.Fatalf("GetDriftEvent() error = %v", err)
	}
	if got.Phase != drift.PhaseCompleted {
		t.Fatalf("good event phase = %s", got.Phase)
	}

	gotFailing, err := f.drifts.GetDriftEvent(context.Background(), failing.ID)
	if err != nil {
		t.Fatalf("GetDriftEvent() error = %v", err)
	}
	if gotFailing.Phase != drift.PhaseFailed {
		t.Fatalf("failing event phase = %s", gotFailing.Phase)
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	f := setupAnalysis(t)

	source := &fakeSource{drained: make(chan struct{})}
	runner := NewRunner(&fakeSubscriber{source: source}, f.svc, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-source.drained
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- runner.Run(ctx)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}
