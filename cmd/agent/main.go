package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cutroom/cutroom-agent/internal/api"
	"github.com/cutroom/cutroom-agent/internal/compile"
	"github.com/cutroom/cutroom-agent/internal/config"
	"github.com/cutroom/cutroom-agent/internal/db"
	"github.com/cutroom/cutroom-agent/internal/engine"
	"github.com/cutroom/cutroom-agent/internal/jobs"
	"github.com/cutroom/cutroom-agent/internal/logging"
	"github.com/cutroom/cutroom-agent/internal/remote"
	"github.com/cutroom/cutroom-agent/internal/render"
	"github.com/cutroom/cutroom-agent/internal/store"
	"github.com/cutroom/cutroom-agent/internal/timeline"
	"github.com/cutroom/cutroom-agent/internal/ui"
)

var Version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ArtifactsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create artifacts dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting cutroom agent", "version", Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	st := store.New(database.Conn())

	deviceID, err := ensureDeviceID(st)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(st)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                    CUTROOM AGENT v0.1.0                   ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	var client remote.Client
	remoteConfigured := cfg.RemoteURL() != ""
	if remoteConfigured {
		httpClient := remote.NewHTTPClient(cfg.RemoteURL(), cfg.RemoteToken(), logger)
		httpClient.SetDeviceID(deviceID)
		client = httpClient
		logger.Info("remote transcode enabled",
			"base_url", cfg.RemoteURL(),
			"token", logging.SanitizeToken(cfg.RemoteToken()),
		)
	} else {
		client = remote.NewStubClient(logger)
		logger.Info("remote transcode not configured, compiles run locally")
	}

	watcher := jobs.NewWatcher(client, logger,
		jobs.WithPollInterval(cfg.PollInterval()),
		jobs.WithOverallTimeout(cfg.CompileTimeout()),
	)

	var renderer engine.Renderer
	tool, err := render.NewFFmpegTool(0, logger)
	if err != nil {
		logger.Warn("ffmpeg not found, local fallback tier disabled", "error", err)
		renderer = unavailableRenderer{}
	} else {
		renderer = render.New(tool, render.Config{
			OutputDir: cfg.ArtifactsDir(),
			FrameRate: cfg.FrameRate(),
			Logger:    logger,
		})
	}

	eng := engine.New(client, watcher, renderer, engine.Config{
		ProbeTimeout:  cfg.ProbeTimeout(),
		MaxAssetBytes: cfg.MaxAssetBytes(),
		OutputFormat:  cfg.OutputFormat(),
		Logger:        logger,
	})

	compileSvc := compile.NewService(st, eng, logger)

	apiServer := api.NewServer(api.ServerConfig{
		Port:             cfg.Port(),
		ArtifactsDir:     cfg.ArtifactsDir(),
		Compiles:         compileSvc,
		Store:            st,
		RemoteConfigured: remoteConfigured,
		Logger:           logger,
		StartTime:        startTime,
		DeviceID:         deviceID,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Logger:   logger,
			OnCancel: eng.Cancel,
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
		go watchTray(tray, compileSvc, quitCh)
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	eng.Cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// watchTray mirrors the active compile into the tray menu.
func watchTray(tray *ui.Tray, svc *compile.Service, quitCh <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-quitCh:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		compiles, err := svc.List(ctx, 1)
		cancel()
		if err != nil || len(compiles) == 0 {
			tray.SetIdle()
			continue
		}

		latest := compiles[0]
		switch {
		case !latest.Terminal():
			tray.SetCompiling(latest.Progress, latest.Stage)
		case latest.State == store.StateFailed:
			tray.SetError(latest.Error)
		default:
			tray.SetIdle()
		}
	}
}

// unavailableRenderer fails every local render; it stands in when ffmpeg is
// missing so remote-only setups keep working.
type unavailableRenderer struct{}

func (unavailableRenderer) Render(ctx context.Context, _ timeline.Timeline, _ render.ProgressFunc) (*render.Result, error) {
	return nil, &render.LocalRenderError{Detail: "ffmpeg not installed"}
}

func ensureDeviceID(st store.Store) (string, error) {
	ctx := context.Background()

	existing, err := st.GetConfig(ctx, "device_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	deviceID := hex.EncodeToString(idBytes)

	if err := st.SetConfig(ctx, "device_id", deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func ensureAuthToken(st store.Store) (string, error) {
	ctx := context.Background()

	existing, err := st.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := st.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
