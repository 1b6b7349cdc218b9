package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"wohnwatch/config"
	"wohnwatch/models"
)

type fakeRunner struct {
	mu      sync.Mutex
	ticks   int
	polled  []string
	toggled []string
	pollErr error
}

func (f *fakeRunner) RunActive(ctx context.Context) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	return 1
}

func (f *fakeRunner) Poll(ctx context.Context, id string) (*models.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polled = append(f.polled, id)
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return &models.PollResult{}, nil
}

func (f *fakeRunner) Toggle(ctx context.Context, id string) (*models.Search, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggled = append(f.toggled, id)
	return &models.Search{ID: id}, nil
}

type fakeQueue struct {
	mu        sync.Mutex
	pending   []models.Command
	processed []int64
}

func (q *fakeQueue) EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var raw json.RawMessage
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	id := int64(len(q.pending) + 1)
	q.pending = append(q.pending, models.Command{ID: id, Command: cmd, Params: raw, CreatedAt: time.Now()})
	return id, nil
}

func (q *fakeQueue) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []models.Command
	for _, c := range q.pending {
		if c.ProcessedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (q *fakeQueue) MarkCommandProcessed(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	for i := range q.pending {
		if q.pending[i].ID == id {
			q.pending[i].ProcessedAt = &now
		}
	}
	q.processed = append(q.processed, id)
	return nil
}

type countingTrigger struct{ n int }

func (c *countingTrigger) Trigger() { c.n++ }

func TestSpec(t *testing.T) {
	tests := []struct {
		cfg  config.SchedulerConfig
		want string
	}{
		{config.SchedulerConfig{Interval: 30 * time.Second}, "@every 30s"},
		{config.SchedulerConfig{Interval: 2 * time.Minute}, "@every 2m0s"},
		{config.SchedulerConfig{}, "@every 30s"},
		{config.SchedulerConfig{Interval: time.Minute, Cron: "*/5 * * * *"}, "*/5 * * * *"},
	}
	for _, tt := range tests {
		if got := New(tt.cfg, &fakeRunner{}).Spec(); got != tt.want {
			t.Fatalf("Spec() = %q, want %q", got, tt.want)
		}
	}
}

func TestStart_InvalidCron(t *testing.T) {
	s := New(config.SchedulerConfig{Cron: "not a cron"}, &fakeRunner{})
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected invalid cron expression to fail")
	}
}

func TestTick_RespectsPause(t *testing.T) {
	runner := &fakeRunner{}
	s := New(config.SchedulerConfig{}, runner)
	ctx := context.Background()

	s.tick(ctx)
	if runner.ticks != 1 {
		t.Fatalf("expected one run, got %d", runner.ticks)
	}

	if err := s.handleCommand(ctx, &models.Command{ID: 1, Command: models.CmdPause}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !s.IsPaused() {
		t.Fatalf("expected scheduler to be paused")
	}
	s.tick(ctx)
	if runner.ticks != 1 {
		t.Fatalf("paused tick must not poll, got %d runs", runner.ticks)
	}

	if err := s.handleCommand(ctx, &models.Command{ID: 2, Command: models.CmdResume}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	s.tick(ctx)
	if runner.ticks != 2 {
		t.Fatalf("expected polling after resume, got %d runs", runner.ticks)
	}
}

func TestProcessCommands(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{}
	queue := &fakeQueue{}
	probe := &countingTrigger{}

	s := New(config.SchedulerConfig{}, runner)
	s.SetCommandQueue(queue)
	s.SetProbeWorker(probe)

	queue.EnqueueCommand(ctx, models.CmdPollSearch, &models.CommandParams{SearchID: "s1"})
	queue.EnqueueCommand(ctx, models.CmdToggleSearch, &models.CommandParams{SearchID: "s2"})
	queue.EnqueueCommand(ctx, models.CmdPollNow, nil)
	queue.EnqueueCommand(ctx, models.CmdProbe, nil)
	queue.EnqueueCommand(ctx, models.CommandType("reboot"), nil)

	s.processCommands(ctx)

	if len(runner.polled) != 1 || runner.polled[0] != "s1" {
		t.Fatalf("expected poll of s1, got %v", runner.polled)
	}
	if len(runner.toggled) != 1 || runner.toggled[0] != "s2" {
		t.Fatalf("expected toggle of s2, got %v", runner.toggled)
	}
	if runner.ticks != 1 {
		t.Fatalf("expected poll_now to run active searches once, got %d", runner.ticks)
	}
	if probe.n != 1 {
		t.Fatalf("expected probe to be triggered once, got %d", probe.n)
	}
	if len(queue.processed) != 5 {
		t.Fatalf("every command must be marked processed, even failing ones; got %v", queue.processed)
	}

	pending, _ := queue.GetPendingCommands(ctx)
	if len(pending) != 0 {
		t.Fatalf("expected no pending commands, got %d", len(pending))
	}
}

func TestHandleCommand_Errors(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{pollErr: errors.New("search not found")}
	s := New(config.SchedulerConfig{}, runner)

	if err := s.handleCommand(ctx, &models.Command{ID: 1, Command: models.CmdPollSearch}); err == nil {
		t.Fatalf("expected missing search_id to fail")
	}
	if err := s.handleCommand(ctx, &models.Command{ID: 2, Command: models.CmdPollSearch, Params: json.RawMessage(`{"search_id":"x"}`)}); err == nil {
		t.Fatalf("expected poll error to propagate")
	}
	if err := s.handleCommand(ctx, &models.Command{ID: 3, Command: models.CmdPause, Params: json.RawMessage(`{bad`)}); err == nil {
		t.Fatalf("expected malformed params to fail")
	}
}

// slowRunner holds the first RunActive call until release is closed.
type slowRunner struct {
	fakeRunner
	started chan struct{}
	release chan struct{}
}

func (r *slowRunner) RunActive(ctx context.Context) int {
	n := r.fakeRunner.RunActive(ctx)
	r.started <- struct{}{}
	<-r.release
	return n
}

func TestTickJob_OverrunDelaysNextFire(t *testing.T) {
	runner := &slowRunner{started: make(chan struct{}, 2), release: make(chan struct{})}
	s := New(config.SchedulerConfig{Interval: time.Second}, runner)
	job := s.tickJob(context.Background())

	first := make(chan struct{})
	go func() {
		job.Run()
		close(first)
	}()
	<-runner.started

	second := make(chan struct{})
	go func() {
		job.Run()
		close(second)
	}()

	select {
	case <-second:
		t.Fatalf("fire during a running tick must wait for it, not be dropped")
	case <-runner.started:
		t.Fatalf("fire during a running tick must not run in parallel")
	case <-time.After(100 * time.Millisecond):
	}

	close(runner.release)
	for _, done := range []chan struct{}{first, second} {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick did not finish after release")
		}
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.ticks != 2 {
		t.Fatalf("expected the delayed fire to run, got %d runs", runner.ticks)
	}
}

func TestTickJob_RecoversPanic(t *testing.T) {
	s := New(config.SchedulerConfig{}, &panicRunner{})
	s.tickJob(context.Background()).Run()
	s.tickJob(context.Background()).Run()
}

type panicRunner struct{ fakeRunner }

func (*panicRunner) RunActive(ctx context.Context) int { panic("boom") }

func TestStop_Twice(t *testing.T) {
	s := New(config.SchedulerConfig{Interval: time.Minute}, &fakeRunner{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
	s.Stop()
}
