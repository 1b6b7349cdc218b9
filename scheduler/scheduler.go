package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"wohnwatch/config"
	"wohnwatch/models"
	"wohnwatch/storage"
)

// SearchRunner is the part of the search service the scheduler drives.
type SearchRunner interface {
	RunActive(ctx context.Context) int
	Poll(ctx context.Context, id string) (*models.PollResult, error)
	Toggle(ctx context.Context, id string) (*models.Search, error)
}

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

type Scheduler struct {
	cfg             config.SchedulerConfig
	searches        SearchRunner
	commands        storage.CommandQueue
	cron            *cron.Cron
	chain           cron.Chain
	commandInterval time.Duration
	paused          atomic.Bool
	stopCh          chan struct{}
	stopOnce        sync.Once

	probeWorker Triggerable
}

func New(cfg config.SchedulerConfig, searches SearchRunner) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		searches: searches,
		cron:     cron.New(),
		chain: cron.NewChain(
			cron.Recover(cron.PrintfLogger(log.Default())),
			cron.DelayIfStillRunning(cron.PrintfLogger(log.Default())),
		),
		commandInterval: 2 * time.Second,
		stopCh:          make(chan struct{}),
	}
}

// SetCommandQueue enables out-of-process control through the commands table.
func (s *Scheduler) SetCommandQueue(q storage.CommandQueue) {
	s.commands = q
}

// SetProbeWorker registers the provider probe for manual triggering
func (s *Scheduler) SetProbeWorker(w Triggerable) {
	s.probeWorker = w
}

// Spec returns the cron spec in use: POLL_CRON if set, else a fixed interval.
func (s *Scheduler) Spec() string {
	if s.cfg.Cron != "" {
		return s.cfg.Cron
	}
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return fmt.Sprintf("@every %s", interval)
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.commands != nil {
		go s.pollCommands(ctx)
	}

	spec := s.Spec()
	log.Printf("Starting scheduler with spec: %s", spec)
	if _, err := s.cron.AddJob(spec, s.tickJob(ctx)); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop waits for a running tick and ends command polling. It is safe to call twice.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		close(s.stopCh)
	})
}

// tickJob wraps tick so a fire landing while the previous tick still runs waits for
// it instead of running in parallel or being dropped.
func (s *Scheduler) tickJob(ctx context.Context) cron.Job {
	return s.chain.Then(cron.FuncJob(func() { s.tick(ctx) }))
}

// tick polls all active searches one after another.
func (s *Scheduler) tick(ctx context.Context) {
	if s.paused.Load() {
		log.Println("Polling is paused, skipping tick")
		return
	}
	if ctx.Err() != nil {
		return
	}

	started := time.Now()
	n := s.searches.RunActive(ctx)
	if n > 0 {
		log.Printf("Tick complete: %d searches in %s", n, time.Since(started).Round(time.Millisecond))
	}
}

// TriggerNow runs one tick immediately, ignoring the pause flag.
func (s *Scheduler) TriggerNow(ctx context.Context) int {
	return s.searches.RunActive(ctx)
}

func (s *Scheduler) IsPaused() bool {
	return s.paused.Load()
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.commandInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.commands.GetPendingCommands(ctx)
	if err != nil {
		log.Printf("Error getting commands: %v", err)
		return
	}

	for _, cmd := range cmds {
		log.Printf("Processing command: %s", cmd.Command)
		if err := s.handleCommand(ctx, &cmd); err != nil {
			log.Printf("Command error: %v", err)
		}
		if err := s.commands.MarkCommandProcessed(ctx, cmd.ID); err != nil {
			log.Printf("Error marking command processed: %v", err)
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := cmd.ParseParams()
	if err != nil {
		return fmt.Errorf("command %d: bad params: %w", cmd.ID, err)
	}

	switch cmd.Command {
	case models.CmdPollNow:
		s.TriggerNow(ctx)
	case models.CmdPollSearch:
		if params.SearchID == "" {
			return fmt.Errorf("command %d: search_id is required", cmd.ID)
		}
		result, err := s.searches.Poll(ctx, params.SearchID)
		if err != nil {
			return err
		}
		log.Printf("Search %s: %d listings, %d new", params.SearchID, len(result.All), len(result.New))
	case models.CmdToggleSearch:
		if params.SearchID == "" {
			return fmt.Errorf("command %d: search_id is required", cmd.ID)
		}
		search, err := s.searches.Toggle(ctx, params.SearchID)
		if err != nil {
			return err
		}
		log.Printf("Search %s active: %v", search.ID, search.Active)
	case models.CmdPause:
		s.paused.Store(true)
		log.Println("Polling paused")
	case models.CmdResume:
		s.paused.Store(false)
		log.Println("Polling resumed")
	case models.CmdProbe:
		if s.probeWorker != nil {
			s.probeWorker.Trigger()
			log.Println("Provider probe triggered via command")
		}
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
	return nil
}
