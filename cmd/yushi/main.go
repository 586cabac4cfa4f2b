package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tangxiangong/yushi/internal/config"
	"github.com/tangxiangong/yushi/internal/controller"
	"github.com/tangxiangong/yushi/internal/models"
	"github.com/tangxiangong/yushi/internal/repository/json"
	"github.com/tangxiangong/yushi/internal/repository/sqliteDb"
	"github.com/tangxiangong/yushi/internal/tui"
	"github.com/tangxiangong/yushi/internal/updater"
)

// dataDir returns the per-user application data directory.
func dataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ".yushi"
	}
	return filepath.Join(base, "yushi")
}

func run() error {
	dir := dataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// The TUI owns the terminal, so logs go to a file.
	logFile, err := os.OpenFile(filepath.Join(dir, "yushi.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	log.SetOutput(logFile)
	log.SetLevel(log.InfoLevel)
	log.Infof("yushi %s starting, data dir %s", config.Version, dir)

	cfgStore, err := config.NewStore(filepath.Join(dir, config.ConfigFile))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	history, err := sqliteDb.New(filepath.Join(dir, config.HistoryFile), cfgStore.Get().MaxHistory)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}

	reg := controller.NewRegistry(json.NewStateStore(filepath.Join(dir, config.StateFile)))
	if err := reg.Load(); err != nil {
		return fmt.Errorf("restore tasks: %w", err)
	}

	sched := controller.NewScheduler(reg, cfgStore, history)

	updates := updater.New(
		config.Version,
		func() string { return cfgStore.Get().UpdateManifestURL },
		cfgStore.Get().RetryCount,
		func(ctx context.Context, url, dest string, report func(received, total int64)) error {
			return controller.NewTransfer(cfgStore.Get()).Fetch(ctx, url, dest, report)
		},
	)

	mgr := controller.NewManager(cfgStore, reg, sched, history, updates)

	// Tasks that were queued when the last run ended compete for slots
	// again; paused ones wait for an explicit resume.
	for _, task := range reg.List() {
		if task.State == models.TaskStateQueued {
			sched.Enqueue(task.ID)
		}
	}

	prog := tui.GetTui(mgr)

	var g errgroup.Group
	g.Go(func() error {
		_, err := prog.Run()
		return err
	})
	if cfgStore.Get().AutoUpdateCheck {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			info, err := updates.Check(ctx)
			if err != nil {
				log.Warnf("Update check failed: %v", err)
				return nil
			}
			if info.Available {
				log.Infof("Update %s available", info.LatestVersion)
			}
			return nil
		})
	}
	runErr := g.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Close(ctx); err != nil {
		log.Errorf("Shutdown: %v", err)
	}
	return runErr
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
