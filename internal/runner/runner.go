// Package runner drives one outreach cycle: collect candidates, message
// partners, persist the outcome and report it.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Draggon233/gift-song/internal/birthday"
	"github.com/Draggon233/gift-song/internal/domain"
	"github.com/Draggon233/gift-song/internal/repo"
	"github.com/Draggon233/gift-song/internal/report"
)

var ErrCycleInProgress = errors.New("cycle already in progress")

const (
	groupMembersCount = 1000
	searchCount       = 100
	reportTimeout     = 30 * time.Second
)

// Collector enumerates candidate profiles with the basic token.
type Collector interface {
	GroupMembers(ctx context.Context, groupID string, count int) ([]domain.Person, error)
	SearchUsers(ctx context.Context, query string, count int) ([]domain.Person, error)
}

type Outreach interface {
	ResolvePartner(ctx context.Context, personID int64) (*domain.PartnerCandidate, error)
	NotifyPartner(ctx context.Context, partner domain.PartnerCandidate, person domain.Person) (domain.SentMessageRecord, error)
}

type Reporter interface {
	Report(ctx context.Context, s report.Summary) error
}

type Options struct {
	Collector Collector
	Outreach  Outreach
	Store     repo.Store
	Reporter  Reporter // optional

	GroupIDs []string
	Window   birthday.Window
	Delay    time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Outcome of a finished cycle. Processed counts users newly added to the
// registry, Skipped those already there.
type Outcome struct {
	RunID      string
	Candidates int
	Processed  int
	Sent       int
	Skipped    int
	StartedAt  time.Time
	FinishedAt time.Time
	Totals     repo.Statistics
}

type Runner struct {
	collector Collector
	outreach  Outreach
	store     repo.Store
	reporter  Reporter
	groups    []string
	window    birthday.Window
	delay     time.Duration
	now       func() time.Time
	wait      func(ctx context.Context, d time.Duration) error
	log       *slog.Logger

	cycle sync.Mutex
	state atomic.Int32

	lastMu sync.Mutex
	last   *Outcome
}

func New(o Options) *Runner {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Runner{
		collector: o.Collector,
		outreach:  o.Outreach,
		store:     o.Store,
		reporter:  o.Reporter,
		groups:    o.GroupIDs,
		window:    o.Window,
		delay:     o.Delay,
		now:       o.Now,
		wait:      sleep,
		log:       o.Logger,
	}
}

func (r *Runner) State() State { return State(r.state.Load()) }

// Last returns the outcome of the most recent finished cycle.
func (r *Runner) Last() (Outcome, bool) {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	if r.last == nil {
		return Outcome{}, false
	}
	return *r.last, true
}

func (r *Runner) setState(s State) { r.state.Store(int32(s)) }

// RunCycle executes one full cycle. Only one cycle runs at a time; a
// concurrent call gets ErrCycleInProgress.
//
// Per-user failures never fail the cycle. The returned error is non-nil
// only when state could not be loaded or committed; the Outcome is valid
// in the commit case.
func (r *Runner) RunCycle(ctx context.Context) (Outcome, error) {
	if !r.cycle.TryLock() {
		return Outcome{}, ErrCycleInProgress
	}
	defer r.cycle.Unlock()
	defer r.setState(StateIdle)

	out := Outcome{RunID: uuid.NewString(), StartedAt: r.now()}
	log := r.log.With("run_id", out.RunID)
	log.Info("cycle started")

	st, err := r.store.Load(ctx)
	if err != nil {
		log.Error("load state", "err", err)
		return out, err
	}

	r.setState(StateCollecting)
	found := r.collect(ctx, log, out.StartedAt)

	r.setState(StateDeduplicating)
	candidates := Dedupe(found)
	out.Candidates = len(candidates)
	log.Info("candidates collected", "found", len(found), "unique", len(candidates))

	r.setState(StateProcessing)
	var (
		processed []int64
		sent      []domain.SentMessageRecord
	)
	for _, p := range candidates {
		if ctx.Err() != nil {
			log.Warn("cycle interrupted, saving progress", "processed", len(processed))
			break
		}
		if st.IsProcessed(p.ID) {
			out.Skipped++
			log.Info("already processed, skip", "user_id", p.ID)
			continue
		}

		if rec := r.processOne(ctx, log, p); rec != nil {
			sent = append(sent, *rec)
		}
		// отмечаем даже без партнёра: повторно не пишем
		processed = append(processed, p.ID)

		if err := r.wait(ctx, r.delay); err != nil {
			log.Warn("cycle interrupted, saving progress", "processed", len(processed))
			break
		}
	}
	out.Processed = len(processed)
	out.Sent = len(sent)

	r.setState(StatePersisting)
	commitCtx := context.WithoutCancel(ctx)
	totals, commitErr := r.store.Commit(commitCtx, repo.Commit{RunAt: out.StartedAt, Processed: processed, Sent: sent})
	if commitErr != nil {
		log.Error("persist cycle", "err", commitErr, "processed", out.Processed, "sent", out.Sent)
		totals = st.Stats
	}
	out.Totals = totals
	out.FinishedAt = r.now()

	if r.reporter != nil {
		r.setState(StateReporting)
		rctx, cancel := context.WithTimeout(commitCtx, reportTimeout)
		err := r.reporter.Report(rctx, report.Summary{
			Processed: out.Processed,
			Sent:      out.Sent,
			At:        out.FinishedAt,
			Totals:    out.Totals,
		})
		cancel()
		if err != nil {
			log.Error("report not delivered", "err", err)
		}
	}

	log.Info("cycle finished",
		"candidates", out.Candidates,
		"processed", out.Processed,
		"sent", out.Sent,
		"skipped", out.Skipped,
		"took", out.FinishedAt.Sub(out.StartedAt),
	)

	r.lastMu.Lock()
	r.last = &out
	r.lastMu.Unlock()

	return out, commitErr
}

// collect gathers window matches from every group and every keyword search.
// A failing source is logged and skipped.
func (r *Runner) collect(ctx context.Context, log *slog.Logger, today time.Time) []domain.Person {
	var found []domain.Person
	keep := func(people []domain.Person) {
		for _, p := range people {
			if r.window.Matches(p, today) {
				found = append(found, p)
			}
		}
	}

	for _, g := range r.groups {
		members, err := r.collector.GroupMembers(ctx, g, groupMembersCount)
		if err != nil {
			log.Warn("group skipped", "group", g, "err", domain.E(domain.KindCollection, "group members", err))
		} else {
			keep(members)
		}
		if r.wait(ctx, r.delay) != nil {
			return found
		}
	}

	for _, d := range r.window.Dates(today) {
		q := "день рождения " + birthday.FormatDayMonth(d)
		people, err := r.collector.SearchUsers(ctx, q, searchCount)
		if err != nil {
			log.Warn("search skipped", "query", q, "err", domain.E(domain.KindCollection, "search users", err))
		} else {
			keep(people)
		}
		if r.wait(ctx, r.delay) != nil {
			return found
		}
	}
	return found
}

// processOne resolves and messages the partner of p. It returns the sent
// record, or nil when nothing was sent.
func (r *Runner) processOne(ctx context.Context, log *slog.Logger, p domain.Person) (rec *domain.SentMessageRecord) {
	log = log.With("user_id", p.ID)
	defer func() {
		if v := recover(); v != nil {
			log.Error("panic while processing user", "panic", v)
			rec = nil
		}
	}()

	partner, err := r.outreach.ResolvePartner(ctx, p.ID)
	if err != nil {
		log.Warn("partner lookup failed", "err", err)
		return nil
	}
	if partner == nil {
		log.Info("partner not found", "name", p.FullName())
		return nil
	}

	sent, err := r.outreach.NotifyPartner(ctx, *partner, p)
	if err != nil {
		log.Warn("message not sent", "partner_id", partner.ID, "err", err)
		return nil
	}
	log.Info("message sent", "partner_id", partner.ID, "partner", partner.DisplayName)
	return &sent
}

// Dedupe keeps the first occurrence of every id, preserving order.
func Dedupe(people []domain.Person) []domain.Person {
	seen := make(map[int64]struct{}, len(people))
	out := make([]domain.Person, 0, len(people))
	for _, p := range people {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
