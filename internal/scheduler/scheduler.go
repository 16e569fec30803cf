package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Runner executes one firing for a strategy key.
type Runner interface {
	Run(ctx context.Context, key int64) error
}

// Scheduler fires every registered strategy on a shared cron schedule. Each
// strategy has its own entry so a slow strategy never delays the others, and
// a firing is skipped while the previous one for the same key still runs.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger *slog.Logger

	mu      sync.Mutex
	entries map[int64]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a scheduler. Specs accept the optional seconds field, so both
// "@hourly" and "0 0 * * * *" are valid.
func New(runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		runner:  runner,
		logger:  logger,
		entries: make(map[int64]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a cron entry for key. Registering the same key twice is an
// error.
func (s *Scheduler) Register(spec string, key int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return fmt.Errorf("strategy %d already scheduled", key)
	}
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{logger: s.logger})).Then(cron.FuncJob(func() {
		s.fire(key)
	}))
	id, err := s.cron.AddJob(spec, job)
	if err != nil {
		return fmt.Errorf("schedule strategy %d: %w", key, err)
	}
	s.entries[key] = id
	return nil
}

// RegisterAll registers each key on the same spec.
func (s *Scheduler) RegisterAll(spec string, keys []int64) error {
	for _, key := range keys {
		if err := s.Register(spec, key); err != nil {
			return err
		}
	}
	return nil
}

// Keys returns the scheduled strategy keys.
func (s *Scheduler) Keys() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]int64, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// RunAllNow fires every registered strategy once, concurrently, and waits.
func (s *Scheduler) RunAllNow() {
	var wg sync.WaitGroup
	for _, key := range s.Keys() {
		wg.Add(1)
		go func(key int64) {
			defer wg.Done()
			s.fire(key)
		}(key)
	}
	wg.Wait()
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "strategies", len(s.Keys()))
}

// Stop cancels in-flight firings and waits for them to return. A run whose
// rate update was already accepted still persists its state.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) fire(key int64) {
	s.wg.Add(1)
	defer s.wg.Done()
	if s.ctx.Err() != nil {
		return
	}
	if err := s.runner.Run(s.ctx, key); err != nil {
		s.logger.Warn("strategy firing failed", "strategy", key, "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
