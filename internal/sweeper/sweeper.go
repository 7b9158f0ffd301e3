package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/expozone/stallbook/internal/clock"
	"github.com/expozone/stallbook/internal/domain"
	"github.com/expozone/stallbook/internal/repository"
)

// Reclaimer expires overdue applications and frees their stalls.
// Implemented by the reservation coordinator.
type Reclaimer interface {
	ReclaimExpired(ctx context.Context) (int, error)
}

// EventStore lists events whose calendar status may need to advance.
type EventStore interface {
	ListEventsForSweep(ctx context.Context, limit int) ([]domain.Event, error)
	UpdateEventStatus(ctx context.Context, id int64, from, to domain.EventStatus, at time.Time) error
}

type Config struct {
	Interval   time.Duration
	EventBatch int
}

// Sweeper runs the periodic background pass: reclaim expired applications,
// then advance event calendar statuses. A mutex keeps the scheduled tick
// and a manually triggered run from overlapping.
type Sweeper struct {
	reclaimer Reclaimer
	events    EventStore
	clock     clock.Clock
	logger    *slog.Logger
	cfg       Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(reclaimer Reclaimer, events EventStore, clk clock.Clock, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	if cfg.EventBatch <= 0 {
		cfg.EventBatch = 200
	}

	return &Sweeper{
		reclaimer: reclaimer,
		events:    events,
		clock:     clk,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches the ticker loop. It returns immediately; Stop waits for an
// in-flight pass to finish.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, err := s.RunOnce(ctx)
				if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrSweepRunning) {
					s.logger.Error("sweep pass failed", "error", err)
				}
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

type Result struct {
	Reclaimed      int `json:"reclaimed"`
	EventsAdvanced int `json:"events_advanced"`
}

// ErrSweepRunning reports that another sweep pass holds the lock; the
// caller's trigger is redundant, not failed.
var ErrSweepRunning = errors.New("a sweep pass is already running")

// RunOnce executes one full sweep pass. Only one pass runs at a time: a call
// that finds another pass in flight returns ErrSweepRunning instead of
// queueing behind it.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	if !s.mu.TryLock() {
		return Result{}, ErrSweepRunning
	}
	defer s.mu.Unlock()

	var res Result

	advanced, err := s.advanceEvents(ctx)
	if err != nil {
		return res, err
	}
	res.EventsAdvanced = advanced

	reclaimed, err := s.reclaimer.ReclaimExpired(ctx)
	if err != nil {
		return res, err
	}
	res.Reclaimed = reclaimed

	if res.Reclaimed > 0 || res.EventsAdvanced > 0 {
		s.logger.Info("sweep pass finished",
			"reclaimed", res.Reclaimed, "events_advanced", res.EventsAdvanced)
	}

	return res, nil
}

// advanceEvents moves each event to the calendar status its dates dictate.
// Per-event failures are logged and skipped; a concurrent advance by another
// instance shows up as ErrStaleStatus and is not an error.
func (s *Sweeper) advanceEvents(ctx context.Context) (int, error) {
	now := s.clock.Now()

	events, err := s.events.ListEventsForSweep(ctx, s.cfg.EventBatch)
	if err != nil {
		return 0, err
	}

	var advanced int
	for _, ev := range events {
		want := domain.EventStatusAt(ev, now)
		if want == ev.Status {
			continue
		}

		if err := s.events.UpdateEventStatus(ctx, ev.ID, ev.Status, want, now); err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				continue
			}
			s.logger.Error("failed to advance event status",
				"event_id", ev.ID, "from", ev.Status, "to", want, "error", err)
			continue
		}
		advanced++
	}

	return advanced, nil
}
