package main

import (
	"context"
	"fmt"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rampart-project/rampart/internal/api"
	"github.com/rampart-project/rampart/internal/audio/opusenc"
	"github.com/rampart-project/rampart/internal/config"
	"github.com/rampart-project/rampart/internal/db"
	"github.com/rampart-project/rampart/internal/events"
	"github.com/rampart-project/rampart/internal/health"
	"github.com/rampart-project/rampart/internal/metrics"
	"github.com/rampart-project/rampart/internal/network"
	"github.com/rampart-project/rampart/internal/scheduler"
	"github.com/rampart-project/rampart/internal/server"
	"github.com/rampart-project/rampart/internal/sound"
	"github.com/rampart-project/rampart/internal/telemetry"
	"github.com/rampart-project/rampart/internal/util"
	"github.com/rampart-project/rampart/internal/worker"
)

// loadConfig reads and validates the configuration, applying the log level
// flag. Warnings are logged; errors refuse the config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.SetLogLevel(logLevel)
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return nil, fmt.Errorf("configuration validation failed, please fix the errors above")
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults until the config is loaded.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := util.InitLogger(cfg.GetLogging().LogConfig()); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", AppVersion).
		Str("config", cfg.Path()).
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("arch", runtime.GOARCH).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("starting Rampart")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus := events.NewEventBus()
	defer eventBus.Stop()

	m := metrics.NewMetrics()

	var store *db.Store
	dbCfg := cfg.GetDatabase()
	if dbCfg.Enabled {
		store, err = db.Open(dbCfg.Path)
		if err != nil {
			return fmt.Errorf("failed to open query store: %w", err)
		}
		defer store.Close()
		log.Info().Str("path", dbCfg.Path).Msg("query store opened")
	} else {
		log.Warn().Msg("query store disabled, admin levels, bans and mutes are unavailable")
	}

	netCfg := cfg.GetNetwork()
	mux, err := network.Listen(ctx, netCfg.Addr(), netCfg.ReadBufferBytes, m)
	if err != nil {
		return err
	}
	defer mux.Close()

	spawner, err := worker.NewSpawner()
	if err != nil {
		return fmt.Errorf("failed to prepare download workers: %w", err)
	}

	encoder, err := opusenc.New(cfg.GetSound().Bitrate)
	if err != nil {
		return fmt.Errorf("failed to create Opus encoder: %w", err)
	}

	svc, err := server.New(cfg, server.Deps{
		Transport: mux,
		Store:     store,
		Launcher:  server.WorkerLauncher{Spawner: spawner},
		Decoder:   sound.MP3Decoder{},
		Encoder:   encoder,
		Bus:       eventBus,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	timers := cfg.GetTimers()
	healthOpts := health.Options{
		StoreInterval: seconds(timers.StoreHealthSec),
		DiskInterval:  seconds(timers.DiskCheckSec),
		DiskPath:      cfg.GetSound().Root,
		QueryTimeout:  dbCfg.QueryTimeout(),
	}
	schedOpts := scheduler.Options{
		ExpiryInterval:  seconds(timers.ExpirySweepSec),
		CleanupInterval: seconds(timers.PartialCleanupSec),
		QueryTimeout:    dbCfg.QueryTimeout(),
	}

	var (
		healthMgr *health.Manager
		sched     *scheduler.Scheduler
		overrides api.OverrideLister
	)
	if store != nil {
		healthMgr = health.NewManager(healthOpts, store, eventBus)
		sched = scheduler.NewScheduler(schedOpts, store, svc.Sounds(), svc.Players())
		overrides = store
	} else {
		healthMgr = health.NewManager(healthOpts, nil, eventBus)
		sched = scheduler.NewScheduler(schedOpts, nil, svc.Sounds(), nil)
	}

	var mqttHandler *telemetry.MQTTHandler
	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(mqttCfg, eventBus, AppVersion)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var apiServer *api.Server
	if apiCfg := cfg.GetAPI(); apiCfg.Enabled {
		apiServer = api.NewServer(apiCfg, api.Deps{
			Status:    svc,
			Catalog:   svc.Sounds().Catalog(),
			Health:    healthMgr,
			Overrides: overrides,
			Metrics:   m,
			Version:   AppVersion,
		}, cfg.GetLogging().Level == "debug")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", mux.LocalAddr().String()).Msg("starting drive loop")
		if err := svc.Run(ctx); err != nil {
			errCh <- fmt.Errorf("drive loop: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("status API failed (non-fatal)")
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventShutdown,
		Source: "main",
	})
	stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	log.Info().Msg("Rampart stopped")
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
