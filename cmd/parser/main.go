package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Draggon233/gift-song/internal/config"
	"github.com/Draggon233/gift-song/internal/db"
	"github.com/Draggon233/gift-song/internal/httpapi"
	"github.com/Draggon233/gift-song/internal/logging"
	"github.com/Draggon233/gift-song/internal/outreach"
	"github.com/Draggon233/gift-song/internal/repo"
	"github.com/Draggon233/gift-song/internal/report"
	"github.com/Draggon233/gift-song/internal/runner"
	"github.com/Draggon233/gift-song/internal/scheduler"
	"github.com/Draggon233/gift-song/internal/vk"
)

type app struct {
	cfg    config.Config
	log    *slog.Logger
	store  repo.Store
	runner *runner.Runner
	close  func()
}

func main() {
	mode := flag.String("mode", "", "once | schedule (по умолчанию интерактивное меню)")
	flag.Parse()

	printBanner(os.Stdout)

	cfg, err := config.Load()
	if !checkConfig(os.Stdout, cfg, err) {
		fmt.Println("\n❌ Пожалуйста, настройте конфигурацию перед запуском")
		fmt.Println("   Смотрите файл .env.example для инструкций")
		os.Exit(1)
	}

	logger, closer, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer closer.Close()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.close()

	choice := *mode
	if choice == "" {
		choice = chooseMode(ctx, os.Stdin, os.Stdout)
	}

	switch choice {
	case "once":
		a.runOnce(ctx)
	case "schedule":
		if err := a.runScheduler(ctx); err != nil {
			logger.Error("scheduler", "err", err)
			os.Exit(1)
		}
	case "exit":
		fmt.Println("👋 До свидания!")
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q, want once or schedule\n", choice)
		os.Exit(2)
	}
}

// build wires the store, the VK clients, reporters and the runner.
func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger, close: func() {}}

	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.ApplyMigrations(ctx, pool, db.Migrations); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		a.store = repo.NewPGStore(pool)
		a.close = pool.Close
		logger.Info("state in postgres")
	} else {
		a.store = repo.NewFileStore(cfg.DatabaseFile, cfg.StatsFile)
		logger.Info("state in files", "registry", cfg.DatabaseFile, "stats", cfg.StatsFile)
	}

	oo := outreach.Options{
		Templates: outreach.Templates(cfg.Templates),
		BotLink:   cfg.BotLink,
		Logger:    logger.With("component", "outreach"),
	}
	if cfg.VKUserToken != "" {
		user := vk.New(cfg.VKUserToken)
		oo.Directory = user
		oo.Messenger = user
	}

	ro := runner.Options{
		Collector: vk.New(cfg.VKToken),
		Outreach:  outreach.New(oo),
		Store:     a.store,
		GroupIDs:  cfg.GroupIDs,
		Window:    cfg.Window,
		Delay:     cfg.ParsingDelay,
		Now:       func() time.Time { return time.Now().In(cfg.Location) },
		Logger:    logger.With("component", "runner"),
	}
	if rep := reporters(cfg, logger); rep != nil {
		logger.Info("reports enabled", "channels", rep.Len())
		ro.Reporter = rep
	}
	a.runner = runner.New(ro)
	return a, nil
}

func reporters(cfg config.Config, logger *slog.Logger) *report.Multi {
	var rs []report.Reporter
	if cfg.TelegramEnabled() {
		tg, err := report.DialTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			logger.Warn("telegram reports disabled", "err", err)
		} else {
			rs = append(rs, tg)
		}
	}
	if cfg.SMTP.Enabled() {
		rs = append(rs, report.NewEmail(report.EmailConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
		}))
	}
	if len(rs) == 0 {
		return nil
	}
	return report.NewMulti(logger.With("component", "report"), rs...)
}

func (a *app) runOnce(ctx context.Context) {
	fmt.Println("🔍 Запуск однократного парсинга...")
	out, err := a.runner.RunCycle(ctx)
	if err != nil {
		fmt.Printf("⚠️  Результат не сохранён: %v\n", err)
	}
	fmt.Println("\n🎉 Результаты парсинга:")
	fmt.Printf("   👥 Обработано пользователей: %d\n", out.Processed)
	fmt.Printf("   📨 Отправлено сообщений: %d\n", out.Sent)
}

func (a *app) runScheduler(ctx context.Context) error {
	fmt.Println("⏰ Запуск планировщика...")
	fmt.Printf("   Расписание: %v\n", a.cfg.ScheduleTimes)
	fmt.Println("   Для остановки нажмите Ctrl+C")
	fmt.Println()

	if st, err := a.store.Load(ctx); err != nil {
		a.log.Warn("stats unavailable", "err", err)
	} else {
		fmt.Println(report.FormatStats(st.Stats, time.Now().In(a.cfg.Location)))
	}

	s, err := scheduler.New(a.runner, a.cfg.ScheduleTimes, a.cfg.Location, a.cfg.ErrorBackoff, a.log.With("component", "scheduler"))
	if err != nil {
		return err
	}

	httpDone := make(chan struct{})
	if a.cfg.HTTPAddr != "" {
		srv := httpapi.New(httpapi.NewHandler(ctx, a.runner, a.store, a.log.With("component", "http")))
		go func() {
			defer close(httpDone)
			if err := httpapi.Serve(ctx, srv, a.cfg.HTTPAddr, a.log); err != nil {
				a.log.Error("http server", "err", err)
			}
		}()
	} else {
		close(httpDone)
	}

	err = s.Run(ctx)
	// цикл, запущенный через /api/run, должен успеть сохраниться
	<-httpDone
	fmt.Println("\n⏹️ Планировщик остановлен")
	return err
}
