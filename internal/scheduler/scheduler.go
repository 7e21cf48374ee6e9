// Package scheduler triggers outreach cycles at fixed times of day.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Draggon233/gift-song/internal/domain"
	"github.com/Draggon233/gift-song/internal/runner"
)

type Cycler interface {
	RunCycle(ctx context.Context) (runner.Outcome, error)
}

type Scheduler struct {
	cron      *cron.Cron
	cycle     Cycler
	schedules []cron.Schedule
	times     []string
	backoff   time.Duration
	log       *slog.Logger
}

// New validates every "HH:MM" in times. Jobs are registered by Run.
func New(c Cycler, times []string, loc *time.Location, backoff time.Duration, log *slog.Logger) (*Scheduler, error) {
	if len(times) == 0 {
		return nil, domain.E(domain.KindScheduler, "scheduler", errors.New("no schedule times"))
	}
	if loc == nil {
		loc = time.Local
	}
	schedules := make([]cron.Schedule, 0, len(times))
	for _, t := range times {
		spec, err := Spec(t)
		if err != nil {
			return nil, domain.E(domain.KindScheduler, "scheduler", err)
		}
		sch, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, domain.E(domain.KindScheduler, "scheduler", err)
		}
		schedules = append(schedules, sch)
	}

	cl := cronLogger{log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		cycle:     c,
		schedules: schedules,
		times:     times,
		backoff:   backoff,
		log:       log,
	}, nil
}

// Spec converts "HH:MM" into a daily cron expression "M H * * *".
func Spec(hhmm string) (string, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(hhmm), ":")
	if !ok {
		return "", fmt.Errorf("bad time %q, want HH:MM", hhmm)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("bad hour in %q", hhmm)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || len(m) != 2 {
		return "", fmt.Errorf("bad minute in %q", hhmm)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// Run performs one cycle right away, then follows the schedule until ctx
// is cancelled. It returns after the running cycle, if any, has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	// один экземпляр на все записи: пересекающиеся запуски пропускаются
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.log})).
		Then(cron.FuncJob(func() { s.runOnce(ctx) }))

	for _, sch := range s.schedules {
		s.cron.Schedule(sch, job)
	}

	s.log.Info("first cycle")
	job.Run()

	s.cron.Start()
	s.log.Info("scheduler started", "times", strings.Join(s.times, ","), "next", s.Next())

	<-ctx.Done()
	s.log.Info("scheduler stopping")
	<-s.cron.Stop().Done()
	return nil
}

// Next returns the earliest upcoming run, zero before Run.
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if next.IsZero() || (!e.Next.IsZero() && e.Next.Before(next)) {
			next = e.Next
		}
	}
	return next
}

// runOnce runs a cycle. After a panic or a persistence failure it keeps
// the slot for the backoff period, so scheduled runs in between are skipped.
func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	failed := func() (failed bool) {
		defer func() {
			if v := recover(); v != nil {
				s.log.Error("cycle panicked", "panic", v)
				failed = true
			}
		}()
		out, err := s.cycle.RunCycle(ctx)
		switch {
		case errors.Is(err, runner.ErrCycleInProgress):
			s.log.Info("cycle already running, skip")
		case err != nil:
			s.log.Error("cycle failed", "run_id", out.RunID, "err", err)
			return domain.KindOf(err) == domain.KindPersistence
		}
		return false
	}()

	if failed && s.backoff > 0 {
		s.log.Warn("backing off after failure", "for", s.backoff)
		t := time.NewTimer(s.backoff)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) { c.l.Debug("cron: "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error("cron: "+msg, append(kv, "err", err)...)
}
