package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shijimago/shijima/internal/config"
	"github.com/shijimago/shijima/internal/core/ecs"
	"github.com/shijimago/shijima/internal/core/event"
	"github.com/shijimago/shijima/internal/core/rendezvous"
	"github.com/shijimago/shijima/internal/data"
	"github.com/shijimago/shijima/internal/httpapi"
	"github.com/shijimago/shijima/internal/persist"
	"github.com/shijimago/shijima/internal/platform"
	"github.com/shijimago/shijima/internal/scripting"
	"github.com/shijimago/shijima/internal/system"
	"github.com/shijimago/shijima/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(name string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              shijimad  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mInstance:\033[0m %s\n\n", name)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Daemon ─────────────────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/shijima.toml"
	if p := os.Getenv("SHIJIMA_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	// 3. Optional session store
	var recorder *persist.Recorder
	if cfg.Database.Driver != "" {
		printSection("Database")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK(fmt.Sprintf("%s connected", cfg.Database.Driver))

		if err := persist.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("migrations applied")

		recorder, err = persist.StartRecorder(ctx, persist.NewSessionRepo(db), cfg.Server.Name, log)
		if err != nil {
			return fmt.Errorf("session recorder: %w", err)
		}
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer closeCancel()
			if err := recorder.Close(closeCtx); err != nil {
				log.Error("session recorder close", zap.Error(err))
			}
		}()
		fmt.Println()
	}

	// 4. Platform, catalog and world
	printSection("Mascots")
	plat := platform.NewStatic(staticDisplays(cfg.Displays), cfg.WindowObserver.TickFrequency)

	ids := ecs.NewIDCounter()
	catalog := data.NewCatalog(ids)
	engine := scripting.NewEngine(log)
	defer engine.Close()
	bus := event.NewBus()

	m := world.NewManager(ids, catalog, engine, plat, bus, world.EnvOptions{
		UserScale:      cfg.Mascots.UserScale,
		SubtickCount:   cfg.Tick.SubtickCount,
		AllowsBreeding: cfg.Mascots.AllowBreeding,
		OwnPID:         os.Getpid(),
		WindowMaxAge:   cfg.WindowObserver.MaxAge,
		Sandbox:        rect(cfg.Sandbox),
	}, log)
	defer m.Close()

	if err := m.RegisterTemplate(data.DefaultTemplate()); err != nil {
		return fmt.Errorf("default template: %w", err)
	}
	templates, err := data.LoadDir(cfg.Mascots.Path, log)
	if err != nil {
		return fmt.Errorf("load mascots: %w", err)
	}
	for _, t := range templates {
		if err := m.RegisterTemplate(t); err != nil {
			log.Warn("mascot template rejected", zap.String("template", t.Name), zap.Error(err))
		}
	}
	printStat("Templates", catalog.Len())
	printStat("Displays", m.Environments().Len())

	m.SetWindowedMode(cfg.Mascots.Windowed)
	for _, name := range cfg.Mascots.SpawnOnStart {
		if _, err := m.Spawn(name); err != nil {
			log.Warn("startup spawn failed", zap.String("template", name), zap.Error(err))
		}
	}
	printStat("Spawned", m.Len())
	fmt.Println()

	// 5. Tick pipeline
	rv := rendezvous.New[*world.Manager](cfg.Tick.RendezvousQueue)
	runner := system.NewTickRunner(rv, m)
	var snapshots *system.PersistenceSystem
	if recorder != nil {
		recorder.Attach(bus)
		snapshots = system.NewPersistenceSystem(m, recorder, cfg.Database.SnapshotInterval)
		runner.Register(snapshots)
	}

	// 6. API
	hub := httpapi.NewHub(log)
	hub.Attach(bus)
	var api *httpapi.Server
	if cfg.API.Enabled {
		api, err = httpapi.NewServer(cfg.API, rv, engine, hub, log)
		if err != nil {
			return fmt.Errorf("api: %w", err)
		}
		if err := api.Listen(); err != nil {
			return err
		}
		go api.Serve()
	}

	// 7. Run the tick loop until a signal arrives
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printSection("Ready")
	if api != nil {
		printReady(fmt.Sprintf("API listening on %s", api.Addr()))
	}
	printReady(fmt.Sprintf("tick loop (%s per tick, %d subticks)", cfg.Tick.Period(), cfg.Tick.SubtickCount))
	fmt.Println()

	sched := system.NewScheduler(runner, m, rv, plat, plat, cfg.Tick.Period(), log)
	sched.Run(ctx)

	log.Info("shutting down")
	if snapshots != nil {
		snapshots.SaveAll()
	}
	if api != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Warn("api shutdown", zap.Error(err))
		}
	}
	log.Info("stopped")
	return nil
}

func rect(r config.RectConfig) platform.Rect {
	return platform.Rect{X: r.X, Y: r.Y, W: r.W, H: r.H}
}

func staticDisplays(cfgs []config.DisplayConfig) []platform.Display {
	out := make([]platform.Display, 0, len(cfgs))
	for _, d := range cfgs {
		avail := rect(d.Available)
		if avail.W == 0 || avail.H == 0 {
			avail = rect(d.Geometry)
		}
		out = append(out, platform.Display{
			ID:        platform.DisplayID(d.ID),
			Geometry:  rect(d.Geometry),
			Available: avail,
		})
	}
	return out
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
