package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/dndvisualizer/internal/config"
	"github.com/haasonsaas/dndvisualizer/internal/imageclient"
	"github.com/haasonsaas/dndvisualizer/internal/ledger"
	"github.com/haasonsaas/dndvisualizer/internal/llmclient"
	"github.com/haasonsaas/dndvisualizer/internal/metrics"
	"github.com/haasonsaas/dndvisualizer/internal/obslog"
	"github.com/haasonsaas/dndvisualizer/internal/reconciler"
	"github.com/haasonsaas/dndvisualizer/internal/runner"
	"github.com/haasonsaas/dndvisualizer/internal/sceneproc"
	"github.com/haasonsaas/dndvisualizer/internal/supervisor"
	"github.com/haasonsaas/dndvisualizer/internal/tracking"
	"github.com/haasonsaas/dndvisualizer/internal/watcher"
)

// runServe builds every component from cfg and runs the pipeline in
// the foreground until the process is interrupted.
func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := obslog.EnsureLogDir(cfg.Logging.MainLogFile); err != nil {
		return fmt.Errorf("prepare log directory: %w", err)
	}
	logger, supervisorLog, closeLogs := obslog.New(obslog.Config{
		Level:             cfg.Logging.Level,
		Console:           true,
		MainLogPath:       cfg.Logging.MainLogFile,
		ErrorLogPath:      cfg.Logging.ErrorLogFile,
		SupervisorLogPath: cfg.Logging.SubprocessLog,
		MaxSizeMB:         cfg.Logging.MaxSizeMB,
		MaxBackups:        cfg.Logging.MaxBackups,
		MaxAgeDays:        cfg.Logging.MaxAgeDays,
	})
	defer closeLogs.Close()
	slog.SetDefault(logger)

	logger.Info("starting scene visualizer pipeline",
		"version", version, "commit", commit, "config", configPath)

	llm := llmclient.New(llmclient.Config{
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		RequiredModel:  cfg.LLM.RequiredModel,
		Temperature:    cfg.LLM.Temperature,
		TopP:           cfg.LLM.TopP,
		NumPredict:     cfg.LLM.NumPredict,
		NumCtx:         cfg.LLM.NumCtx,
		RequestTimeout: cfg.LLM.RequestTimeout,
		RetryCount:     cfg.LLM.RetryCount,
		RetryDelay:     cfg.LLM.RetryDelay,
		TriggerToken:   cfg.LLM.TriggerToken,
	})
	img := imageclient.New(imageclient.Config{
		Host:           cfg.Image.Host,
		Port:           cfg.Image.Port,
		ConnectTimeout: cfg.Image.ConnectTimeout,
		RequestTimeout: cfg.Image.RequestTimeout,
	})

	var launch []string
	if strings.TrimSpace(cfg.LLM.Launch) != "" {
		launch = []string{"bash", "-c", cfg.LLM.Launch}
	}
	sup := supervisor.New(supervisor.Config{
		LaunchCommand:  launch,
		StartupWindow:  cfg.LLM.StartupWindow,
		ShutdownGrace:  cfg.LLM.ShutdownGrace,
		HealthInterval: cfg.Pipeline.HealthcheckInterval,
	}, llm, img, logger)

	proc := sceneproc.New(sceneproc.Config{
		OutputDir:    cfg.Paths.SceneDir,
		MaxRetries:   cfg.Image.MaxRetries,
		RetryDelay:   cfg.Image.RetryDelay,
		TriggerToken: cfg.LLM.TriggerToken,
		FallbackMode: sceneproc.FallbackMode(cfg.Pipeline.FallbackMode),
	}, llm, img, logger)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		proc.SetMetrics(m)
	}

	store := tracking.New(cfg.Paths.WatchedDir, logger)

	recon := reconciler.New(reconciler.Config{
		WatchedDir:           cfg.Paths.WatchedDir,
		OutputDir:            cfg.Paths.SceneDir,
		Interval:             cfg.Pipeline.ReconcileInterval,
		SlowThreshold:        cfg.Pipeline.SlowSyncThreshold,
		SlowIdleDelay:        cfg.Pipeline.SlowSyncIdleDelay,
		MaxConsecutiveErrors: cfg.Pipeline.MaxConsecutiveErrors,
		MaxBackoff:           cfg.Pipeline.MaxBackoff,
	}, store, proc, func() bool { return img.Probe() == nil }, logger)
	if m != nil {
		recon.SetMetrics(m)
	}

	var led *ledger.Ledger
	if cfg.Ledger.Enabled {
		led, err = ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer led.Close()
		recon.SetLedger(led)
	}

	watch := watcher.New(cfg.Paths.WatchedDir, func(filename string) {
		logger.Debug("watcher hint, running an out-of-cycle reconciliation pass", "filename", filename)
		go func() {
			if err := recon.RunOnce(context.Background()); err != nil {
				logger.Warn("hint-triggered reconciliation failed", "filename", filename, "error", err)
			}
		}()
	}, logger)

	r := runner.New(runner.Config{
		WatchedDir:             cfg.Paths.WatchedDir,
		OutputDir:              cfg.Paths.SceneDir,
		LockPath:               cfg.Paths.LockFile,
		HealthcheckInterval:    cfg.Pipeline.HealthcheckInterval,
		HeartbeatInterval:      cfg.Pipeline.HeartbeatInterval,
		StatusSnapshotInterval: cfg.Pipeline.StatusInterval,
		ImageMaxRetries:        cfg.Image.MaxRetries,
		ImageRetryDelay:        cfg.Image.RetryDelay,
	}, store, recon, watch, sup, logger)
	r.SetSupervisorLog(supervisorLog)

	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	return r.Run(cmd.Context())
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics endpoint stopped", "error", err)
	}
}
