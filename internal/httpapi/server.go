// Package httpapi exposes health, statistics and a manual trigger over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Draggon233/gift-song/internal/repo"
	"github.com/Draggon233/gift-song/internal/runner"
)

type Runner interface {
	RunCycle(ctx context.Context) (runner.Outcome, error)
	State() runner.State
	Last() (runner.Outcome, bool)
}

type Handler struct {
	ctx    context.Context
	runner Runner
	store  repo.Store
	log    *slog.Logger
}

// NewHandler binds triggered cycles to ctx, so shutdown reaches them.
func NewHandler(ctx context.Context, r Runner, s repo.Store, log *slog.Logger) *Handler {
	return &Handler{ctx: ctx, runner: r, store: s, log: log}
}

// New builds the fiber app with all routes.
func New(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/health", h.Health)
	api := app.Group("/api")
	api.Get("/stats", h.Stats)
	api.Post("/run", h.Run)
	return app
}

// Serve listens on addr until ctx is cancelled. It returns once in-flight
// requests, including a triggered cycle, have finished.
func Serve(ctx context.Context, app *fiber.App, addr string, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- app.Listen(addr) }()
	log.Info("http listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := app.Shutdown(); err != nil {
			return err
		}
		return <-errCh
	}
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "healthy",
		"state":  h.runner.State().String(),
	})
}

type dayJSON struct {
	Date      string `json:"date"`
	Runs      int    `json:"runs"`
	Processed int    `json:"processed"`
	Messages  int    `json:"messages"`
}

type outcomeJSON struct {
	RunID      string    `json:"run_id"`
	Candidates int       `json:"candidates"`
	Processed  int       `json:"processed"`
	Sent       int       `json:"sent"`
	Skipped    int       `json:"skipped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func toOutcomeJSON(o runner.Outcome) outcomeJSON {
	return outcomeJSON{
		RunID:      o.RunID,
		Candidates: o.Candidates,
		Processed:  o.Processed,
		Sent:       o.Sent,
		Skipped:    o.Skipped,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
}

func (h *Handler) Stats(c *fiber.Ctx) error {
	st, err := h.store.Load(c.UserContext())
	if err != nil {
		h.log.Error("stats load", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load statistics"})
	}

	// свежие дни первыми
	daily := make([]dayJSON, 0, len(st.Stats.Daily))
	for _, day := range st.Stats.SortedDays() {
		v := st.Stats.Daily[day]
		daily = append(daily, dayJSON{Date: day, Runs: v.Runs, Processed: v.Processed, Messages: v.Messages})
	}
	resp := fiber.Map{
		"state":           h.runner.State().String(),
		"total_runs":      st.Stats.TotalRuns,
		"total_processed": st.Stats.TotalProcessed,
		"total_messages":  st.Stats.TotalMessages,
		"processed_users": len(st.Processed),
		"daily_stats":     daily,
		"last_run":        nil,
	}
	if !st.Stats.LastRun.IsZero() {
		resp["last_run"] = st.Stats.LastRun
	}
	if last, ok := h.runner.Last(); ok {
		resp["last_cycle"] = toOutcomeJSON(last)
	}
	return c.JSON(resp)
}

// Run executes a cycle synchronously. 409 while another cycle runs.
func (h *Handler) Run(c *fiber.Ctx) error {
	out, err := h.runner.RunCycle(h.ctx)
	if errors.Is(err, runner.ErrCycleInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "cycle already in progress"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   err.Error(),
			"outcome": toOutcomeJSON(out),
		})
	}
	return c.Status(fiber.StatusOK).JSON(toOutcomeJSON(out))
}
