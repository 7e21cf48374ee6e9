package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Draggon233/gift-song/internal/birthday"
	"github.com/Draggon233/gift-song/internal/domain"
	"github.com/Draggon233/gift-song/internal/logging"
	"github.com/Draggon233/gift-song/internal/outreach"
	"github.com/Draggon233/gift-song/internal/repo"
	"github.com/Draggon233/gift-song/internal/report"
)

// 26.02 + 7 дней = 05.03
var today = time.Date(2025, 2, 26, 9, 0, 0, 0, time.Local)

func person(id int64, bdate string, sex domain.Sex) domain.Person {
	return domain.Person{ID: id, FirstName: "U", LastName: "Ser", BirthDate: bdate, Sex: sex}
}

type fakeCollector struct {
	mu       sync.Mutex
	groups   map[string][]domain.Person
	groupErr map[string]error
	search   map[string][]domain.Person
	queries  []string
	onCall   func()
}

func (f *fakeCollector) GroupMembers(_ context.Context, g string, count int) ([]domain.Person, error) {
	if f.onCall != nil {
		f.onCall()
	}
	if count != groupMembersCount {
		return nil, errors.New("unexpected count")
	}
	if err := f.groupErr[g]; err != nil {
		return nil, err
	}
	return f.groups[g], nil
}

func (f *fakeCollector) SearchUsers(_ context.Context, q string, _ int) ([]domain.Person, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	return f.search[q], nil
}

type fakeOutreach struct {
	partners   map[int64]*domain.PartnerCandidate
	resolveErr map[int64]error
	sendErr    error
	panicOn    int64
	resolved   []int64
	notified   []int64
	afterSend  func()
}

func (f *fakeOutreach) ResolvePartner(_ context.Context, id int64) (*domain.PartnerCandidate, error) {
	if id == f.panicOn {
		panic("boom")
	}
	f.resolved = append(f.resolved, id)
	if err := f.resolveErr[id]; err != nil {
		return nil, err
	}
	return f.partners[id], nil
}

func (f *fakeOutreach) NotifyPartner(_ context.Context, p domain.PartnerCandidate, who domain.Person) (domain.SentMessageRecord, error) {
	if f.afterSend != nil {
		defer f.afterSend()
	}
	if f.sendErr != nil {
		return domain.SentMessageRecord{}, f.sendErr
	}
	f.notified = append(f.notified, who.ID)
	return domain.SentMessageRecord{PartnerID: p.ID, BirthdayUserID: who.ID, SentAt: today, MessageText: "hi"}, nil
}

type fakeReporter struct {
	got []report.Summary
	err error
}

func (f *fakeReporter) Report(_ context.Context, s report.Summary) error {
	f.got = append(f.got, s)
	return f.err
}

func fileStore(t *testing.T) *repo.FileStore {
	dir := t.TempDir()
	return repo.NewFileStore(filepath.Join(dir, "birthday_data.json"), filepath.Join(dir, "scheduler_stats.json"))
}

func newRunner(c Collector, o Outreach, s repo.Store, rep Reporter, groups ...string) *Runner {
	return New(Options{
		Collector: c,
		Outreach:  o,
		Store:     s,
		Reporter:  rep,
		GroupIDs:  groups,
		Window:    birthday.DefaultWindow(),
		Now:       func() time.Time { return today },
		Logger:    logging.Discard(),
	})
}

func partner(id int64) *domain.PartnerCandidate {
	return &domain.PartnerCandidate{ID: id, DisplayName: "P", Messageable: true}
}

func TestRunCycle_DedupeAcrossPasses(t *testing.T) {
	col := &fakeCollector{
		groups: map[string][]domain.Person{
			"g1": {person(1001, "5.3.1990", domain.SexFemale), person(1002, "6.3", domain.SexMale)},
		},
		search: map[string][]domain.Person{
			"день рождения 05.03": {person(1001, "5.3.1990", domain.SexFemale)},
		},
	}
	out := &fakeOutreach{partners: map[int64]*domain.PartnerCandidate{1001: partner(2001)}}
	store := fileStore(t)
	r := newRunner(col, out, store, nil, "g1")

	res, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Candidates != 1 || res.Processed != 1 || res.Sent != 1 {
		t.Fatalf("outcome = %+v", res)
	}
	if len(out.resolved) != 1 || out.resolved[0] != 1001 {
		t.Fatalf("resolved = %v", out.resolved)
	}
	if len(col.queries) != 1 || col.queries[0] != "день рождения 05.03" {
		t.Fatalf("queries = %v", col.queries)
	}
	if res.RunID == "" {
		t.Fatal("empty run id")
	}
	if r.State() != StateIdle {
		t.Fatalf("state = %v", r.State())
	}
}

func TestRunCycle_SecondRunSkipsProcessed(t *testing.T) {
	col := &fakeCollector{groups: map[string][]domain.Person{
		"g": {person(1, "5.3", domain.SexMale), person(2, "5.3", domain.SexFemale)},
	}}
	out := &fakeOutreach{partners: map[int64]*domain.PartnerCandidate{1: partner(10)}}
	store := fileStore(t)
	r := newRunner(col, out, store, nil, "g")

	if _, err := r.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	res, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 0 || res.Sent != 0 || res.Skipped != 2 {
		t.Fatalf("second outcome = %+v", res)
	}
	if len(out.notified) != 1 {
		t.Fatalf("notified = %v", out.notified)
	}
	if res.Totals.TotalRuns != 2 || res.Totals.TotalProcessed != 2 || res.Totals.TotalMessages != 1 {
		t.Fatalf("totals = %+v", res.Totals)
	}
	if last, ok := r.Last(); !ok || last.RunID != res.RunID {
		t.Fatalf("Last = %+v, %v", last, ok)
	}
}

func TestRunCycle_NoPartnerStillMarksProcessed(t *testing.T) {
	col := &fakeCollector{groups: map[string][]domain.Person{"g": {person(5, "5.3", domain.SexFemale)}}}
	// партнёр закрыл личку: резолвер вернул nil
	out := &fakeOutreach{}
	store := fileStore(t)
	r := newRunner(col, out, store, nil, "g")

	res, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 || res.Sent != 0 {
		t.Fatalf("outcome = %+v", res)
	}
	st, _ := store.Load(context.Background())
	if !st.IsProcessed(5) || len(st.Sent) != 0 {
		t.Fatalf("state = %+v", st)
	}
}

func TestRunCycle_WithoutUserTokenRegistryStillGrows(t *testing.T) {
	col := &fakeCollector{groups: map[string][]domain.Person{"g": {person(7, "5.3", domain.SexFemale), person(8, "5.3", domain.SexMale)}}}
	svc := outreach.New(outreach.Options{Logger: logging.Discard()})
	store := fileStore(t)
	r := newRunner(col, svc, store, nil, "g")

	res, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 0 || res.Processed != 2 {
		t.Fatalf("outcome = %+v", res)
	}
	st, _ := store.Load(context.Background())
	if len(st.Processed) != 2 || len(st.Sent) != 0 {
		t.Fatalf("state = %+v", st)
	}
}

func TestRunCycle_FailuresAreIsolated(t *testing.T) {
	col := &fakeCollector{
		groups:   map[string][]domain.Person{"ok": {person(1, "5.3", 0), person(2, "5.3", 0), person(3, "5.3", 0)}},
		groupErr: map[string]error{"broken": errors.New("access denied")},
	}
	out := &fakeOutreach{
		partners:   map[int64]*domain.PartnerCandidate{1: partner(11), 3: partner(33)},
		resolveErr: map[int64]error{1: errors.New("rate limit")},
		panicOn:    2,
	}
	rep := &fakeReporter{err: errors.New("telegram down")}
	r := newRunner(col, out, fileStore(t), rep, "broken", "ok")

	res, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Processed != 3 || res.Sent != 1 {
		t.Fatalf("outcome = %+v", res)
	}
	if len(rep.got) != 1 || rep.got[0].Sent != 1 || rep.got[0].Totals.TotalRuns != 1 {
		t.Fatalf("report = %+v", rep.got)
	}
}

func TestRunCycle_NotMatchingWindowIgnored(t *testing.T) {
	col := &fakeCollector{groups: map[string][]domain.Person{"g": {
		person(1, "4.3", 0), person(2, "", 0), person(3, "5.13", 0),
	}}}
	out := &fakeOutreach{}
	r := newRunner(col, out, fileStore(t), nil, "g")
	res, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Candidates != 0 || len(out.resolved) != 0 {
		t.Fatalf("outcome = %+v resolved=%v", res, out.resolved)
	}
}

type failingStore struct{ repo.Store }

func (failingStore) Commit(context.Context, repo.Commit) (repo.Statistics, error) {
	return repo.Statistics{}, domain.E(domain.KindPersistence, "commit", errors.New("disk full"))
}

func TestRunCycle_PersistenceErrorSurfaced(t *testing.T) {
	col := &fakeCollector{groups: map[string][]domain.Person{"g": {person(1, "5.3", 0)}}}
	out := &fakeOutreach{partners: map[int64]*domain.PartnerCandidate{1: partner(2)}}
	rep := &fakeReporter{}
	r := newRunner(col, out, failingStore{fileStore(t)}, rep, "g")

	res, err := r.RunCycle(context.Background())
	if domain.KindOf(err) != domain.KindPersistence {
		t.Fatalf("err = %v", err)
	}
	if res.Sent != 1 || len(rep.got) != 1 {
		t.Fatalf("outcome = %+v, reports = %d", res, len(rep.got))
	}
}

func TestRunCycle_InterruptKeepsProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	col := &fakeCollector{groups: map[string][]domain.Person{"g": {person(1, "5.3", 0), person(2, "5.3", 0)}}}
	out := &fakeOutreach{
		partners:  map[int64]*domain.PartnerCandidate{1: partner(10), 2: partner(20)},
		afterSend: cancel,
	}
	store := fileStore(t)
	r := newRunner(col, out, store, nil, "g")

	res, err := r.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Processed != 1 || res.Sent != 1 {
		t.Fatalf("outcome = %+v", res)
	}
	st, _ := store.Load(context.Background())
	if !st.IsProcessed(1) || st.IsProcessed(2) || len(st.Sent) != 1 {
		t.Fatalf("state = %+v", st)
	}
}

func TestRunCycle_Serialized(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	col := &fakeCollector{
		groups: map[string][]domain.Person{"g": nil},
		onCall: func() {
			once.Do(func() { close(entered) })
			<-release
		},
	}
	r := newRunner(col, &fakeOutreach{}, fileStore(t), nil, "g")

	done := make(chan error, 1)
	go func() {
		_, err := r.RunCycle(context.Background())
		done <- err
	}()

	<-entered
	if r.State() != StateCollecting {
		t.Fatalf("state = %v", r.State())
	}
	if _, err := r.RunCycle(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("err = %v, want ErrCycleInProgress", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}
}

func TestDedupe_FirstSeenOrder(t *testing.T) {
	in := []domain.Person{{ID: 3}, {ID: 1}, {ID: 3}, {ID: 2}, {ID: 1}}
	got := Dedupe(in)
	if len(got) != 3 || got[0].ID != 3 || got[1].ID != 1 || got[2].ID != 2 {
		t.Fatalf("Dedupe = %v", got)
	}
}

func TestRunCycle_DelayAfterEveryCallAndProcessedUser(t *testing.T) {
	col := &fakeCollector{groups: map[string][]domain.Person{
		"g1": {person(1, "5.3", 0), person(2, "5.3", 0)},
		"g2": {person(3, "5.3", 0)},
	}}
	store := fileStore(t)
	if _, err := store.Commit(context.Background(), repo.Commit{RunAt: today, Processed: []int64{2}}); err != nil {
		t.Fatal(err)
	}
	r := New(Options{
		Collector: col,
		Outreach:  &fakeOutreach{},
		Store:     store,
		GroupIDs:  []string{"g1", "g2"},
		Window:    birthday.DefaultWindow(),
		Delay:     250 * time.Millisecond,
		Now:       func() time.Time { return today },
		Logger:    logging.Discard(),
	})
	var waits []time.Duration
	r.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}

	res, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 2 || res.Skipped != 1 {
		t.Fatalf("outcome = %+v", res)
	}
	// 2 группы + 1 дата поиска + 2 обработанных, пропущенный без паузы
	if len(waits) != 5 {
		t.Fatalf("waits = %v, want 5", waits)
	}
	for _, d := range waits {
		if d != 250*time.Millisecond {
			t.Fatalf("wait %v, want the configured delay", d)
		}
	}
}

func TestRunCycle_DelayIsReal(t *testing.T) {
	col := &fakeCollector{groups: map[string][]domain.Person{"g": {person(1, "5.3", 0)}}}
	r := New(Options{
		Collector: col,
		Outreach:  &fakeOutreach{},
		Store:     fileStore(t),
		GroupIDs:  []string{"g"},
		Window:    birthday.DefaultWindow(),
		Delay:     30 * time.Millisecond,
		Now:       func() time.Time { return today },
		Logger:    logging.Discard(),
	})
	start := time.Now()
	if _, err := r.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	// группа, поиск, один пользователь
	if took := time.Since(start); took < 90*time.Millisecond {
		t.Fatalf("cycle took %v, want at least three delays", took)
	}
}

func TestRunCycle_CancelDuringDelayStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	col := &fakeCollector{groups: map[string][]domain.Person{
		"g1": {person(1, "5.3", 0)},
		"g2": {person(2, "5.3", 0)},
	}}
	out := &fakeOutreach{}
	store := fileStore(t)
	r := New(Options{
		Collector: col,
		Outreach:  out,
		Store:     store,
		GroupIDs:  []string{"g1", "g2"},
		Window:    birthday.DefaultWindow(),
		Delay:     time.Hour,
		Now:       func() time.Time { return today },
		Logger:    logging.Discard(),
	})
	time.AfterFunc(50*time.Millisecond, cancel)

	done := make(chan struct{})
	var res Outcome
	var err error
	go func() {
		res, err = r.RunCycle(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle kept waiting after cancel")
	}
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(col.queries) != 0 || len(out.resolved) != 0 || res.Processed != 0 {
		t.Fatalf("work after cancel: queries=%v resolved=%v outcome=%+v", col.queries, out.resolved, res)
	}
	st, _ := store.Load(context.Background())
	if st.Stats.TotalRuns != 1 {
		t.Fatalf("cycle not committed: %+v", st.Stats)
	}
}

func TestRunCycle_SkipLoggedAtInfo(t *testing.T) {
	col := &fakeCollector{groups: map[string][]domain.Person{"g": {person(7, "5.3", 0)}}}
	store := fileStore(t)
	if _, err := store.Commit(context.Background(), repo.Commit{RunAt: today, Processed: []int64{7}}); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	r := New(Options{
		Collector: col,
		Outreach:  &fakeOutreach{},
		Store:     store,
		GroupIDs:  []string{"g"},
		Window:    birthday.DefaultWindow(),
		Now:       func() time.Time { return today },
		Logger:    slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})),
	})

	if _, err := r.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, "already processed") {
			line = l
			break
		}
	}
	if !strings.Contains(line, "level=INFO") || !strings.Contains(line, "user_id=7") {
		t.Fatalf("skip line = %q\nlog:\n%s", line, buf.String())
	}
}
