package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/Draggon233/gift-song/internal/domain"
	"github.com/Draggon233/gift-song/internal/logging"
	"github.com/Draggon233/gift-song/internal/repo"
	"github.com/Draggon233/gift-song/internal/runner"
)

type fakeRunner struct {
	state runner.State
	err   error
	last  *runner.Outcome
	calls int
}

func (f *fakeRunner) RunCycle(context.Context) (runner.Outcome, error) {
	f.calls++
	return runner.Outcome{RunID: "r-1", Processed: 2, Sent: 1}, f.err
}

func (f *fakeRunner) State() runner.State { return f.state }

func (f *fakeRunner) Last() (runner.Outcome, bool) {
	if f.last == nil {
		return runner.Outcome{}, false
	}
	return *f.last, true
}

func newStore(t *testing.T) *repo.FileStore {
	dir := t.TempDir()
	return repo.NewFileStore(filepath.Join(dir, "data.json"), filepath.Join(dir, "stats.json"))
}

func decode(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func TestHealth(t *testing.T) {
	app := New(NewHandler(context.Background(), &fakeRunner{state: runner.StateCollecting}, newStore(t), logging.Discard()))
	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if m := decode(t, resp.Body); m["state"] != "collecting" {
		t.Fatalf("body = %v", m)
	}
}

func TestStats(t *testing.T) {
	store := newStore(t)
	runAt := time.Date(2025, 2, 26, 9, 0, 0, 0, time.UTC)
	if _, err := store.Commit(context.Background(), repo.Commit{
		RunAt:     runAt.AddDate(0, 0, -1),
		Processed: []int64{1},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Commit(context.Background(), repo.Commit{
		RunAt:     runAt,
		Processed: []int64{2},
		Sent:      []domain.SentMessageRecord{{PartnerID: 3, BirthdayUserID: 1}},
	}); err != nil {
		t.Fatal(err)
	}
	fr := &fakeRunner{last: &runner.Outcome{RunID: "prev"}}
	app := New(NewHandler(context.Background(), fr, store, logging.Discard()))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/stats", nil))
	if err != nil {
		t.Fatal(err)
	}
	m := decode(t, resp.Body)
	if m["total_runs"] != float64(2) || m["total_processed"] != float64(2) || m["total_messages"] != float64(1) {
		t.Fatalf("body = %v", m)
	}
	daily, _ := m["daily_stats"].([]any)
	if len(daily) != 2 {
		t.Fatalf("daily = %v", m["daily_stats"])
	}
	newest, _ := daily[0].(map[string]any)
	if newest["date"] != "2025-02-26" || newest["messages"] != float64(1) {
		t.Fatalf("daily must be newest first: %v", daily)
	}
	last, _ := m["last_cycle"].(map[string]any)
	if last["run_id"] != "prev" {
		t.Fatalf("last_cycle = %v", m["last_cycle"])
	}
}

func TestRun(t *testing.T) {
	fr := &fakeRunner{}
	app := New(NewHandler(context.Background(), fr, newStore(t), logging.Discard()))

	resp, err := app.Test(httptest.NewRequest("POST", "/api/run", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 || fr.calls != 1 {
		t.Fatalf("status = %d calls = %d", resp.StatusCode, fr.calls)
	}
	if m := decode(t, resp.Body); m["run_id"] != "r-1" || m["sent"] != float64(1) {
		t.Fatalf("body = %v", m)
	}
}

type ctxRunner struct {
	fakeRunner
	got context.Context
}

func (r *ctxRunner) RunCycle(ctx context.Context) (runner.Outcome, error) {
	r.got = ctx
	return runner.Outcome{RunID: "r-2"}, nil
}

func TestRun_CycleFollowsServerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cr := &ctxRunner{}
	app := New(NewHandler(ctx, cr, newStore(t), logging.Discard()))

	resp, err := app.Test(httptest.NewRequest("POST", "/api/run", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 || cr.got == nil {
		t.Fatalf("status = %d ctx = %v", resp.StatusCode, cr.got)
	}
	if cr.got.Done() == nil {
		t.Fatal("cycle context cannot be cancelled")
	}
	cancel()
	select {
	case <-cr.got.Done():
	case <-time.After(time.Second):
		t.Fatal("shutdown did not reach the cycle context")
	}
}

func TestRun_ConflictWhileBusy(t *testing.T) {
	fr := &fakeRunner{err: runner.ErrCycleInProgress}
	app := New(NewHandler(context.Background(), fr, newStore(t), logging.Discard()))

	resp, err := app.Test(httptest.NewRequest("POST", "/api/run", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 409 {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestRun_PersistenceFailure(t *testing.T) {
	fr := &fakeRunner{err: domain.E(domain.KindPersistence, "commit", errors.New("disk full"))}
	app := New(NewHandler(context.Background(), fr, newStore(t), logging.Discard()))

	resp, err := app.Test(httptest.NewRequest("POST", "/api/run", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 500 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
