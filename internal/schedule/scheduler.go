package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// FireFunc runs the script that owns a directive.
type FireFunc func(ctx context.Context, d Directive) error

// Job is a registered directive with its next and previous fire times.
type Job struct {
	Directive
	Next time.Time
	Prev time.Time
}

// Scheduler keeps one cron entry per directive. Registration is per owner:
// Replace drops everything an owner had before adding its new directives.
type Scheduler struct {
	c      *cron.Cron
	fire   FireFunc
	logger *slog.Logger

	mu      sync.Mutex
	owned   map[string][]Directive
	entries map[string]cron.EntryID // job id -> cron entry
	ctx     context.Context
}

// New creates a scheduler. A run still in progress when its job fires
// again is skipped.
func New(fire FireFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		c: cron.New(
			cron.WithParser(Parser),
			cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		fire:    fire,
		logger:  logger,
		owned:   make(map[string][]Directive),
		entries: make(map[string]cron.EntryID),
		ctx:     context.Background(),
	}
}

// Start runs the cron loop and blocks until ctx is cancelled. Jobs fired
// while running get ctx as their parent context.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.c.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.c.Entries())))
	<-ctx.Done()
	<-s.c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Replace removes all jobs of owner and registers ds in their place.
func (s *Scheduler) Replace(owner string, ds []Directive) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(owner)
	for _, d := range ds {
		d.Owner = owner
		id, err := s.c.AddFunc(d.Cron, s.makeFunc(d))
		if err != nil {
			s.removeLocked(owner)
			return fmt.Errorf("schedule %s: invalid cron expression %q: %w", d.ID(), d.Cron, err)
		}
		s.entries[d.ID()] = id
		s.owned[owner] = append(s.owned[owner], d)
		s.logger.Info("schedule registered", slog.String("job", d.ID()), slog.String("cron", d.Cron))
	}
	return nil
}

// Remove drops every job owned by owner and reports how many there were.
func (s *Scheduler) Remove(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(owner)
}

func (s *Scheduler) removeLocked(owner string) int {
	ds := s.owned[owner]
	for _, d := range ds {
		if id, ok := s.entries[d.ID()]; ok {
			s.c.Remove(id)
			delete(s.entries, d.ID())
		}
	}
	delete(s.owned, owner)
	return len(ds)
}

// Jobs returns a snapshot ordered by owner and sequence.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Job
	for _, ds := range s.owned {
		for _, d := range ds {
			job := Job{Directive: d}
			if id, ok := s.entries[d.ID()]; ok {
				e := s.c.Entry(id)
				job.Next, job.Prev = e.Next, e.Prev
			}
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func (s *Scheduler) makeFunc(d Directive) func() {
	return func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		s.logger.Info("schedule firing", slog.String("job", d.ID()))
		if err := s.fire(ctx, d); err != nil {
			s.logger.Warn("scheduled run failed", slog.String("job", d.ID()), slog.String("error", err.Error()))
		}
	}
}
