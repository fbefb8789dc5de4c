package obslog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRoutesErrorRecordsToBothLogs(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Format:            "json",
		MainLogPath:       filepath.Join(dir, "main.log"),
		ErrorLogPath:      filepath.Join(dir, "errors.log"),
		SupervisorLogPath: filepath.Join(dir, "image_service.log"),
	}

	logger, supervisorLog, closer := New(cfg)
	require.NotNil(t, logger)
	require.NotNil(t, supervisorLog)

	logger.Info("starting up")
	logger.Error("scene failed", "scene", "szene_01")
	require.NoError(t, closer.Close())

	main, err := os.ReadFile(cfg.MainLogPath)
	require.NoError(t, err)
	require.Contains(t, string(main), "starting up")
	require.Contains(t, string(main), "scene failed")

	errs, err := os.ReadFile(cfg.ErrorLogPath)
	require.NoError(t, err)
	require.NotContains(t, string(errs), "starting up")
	require.Contains(t, string(errs), "scene failed")
}

func TestNewKeepsSupervisorLogSeparate(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		MainLogPath:       filepath.Join(dir, "main.log"),
		ErrorLogPath:      filepath.Join(dir, "errors.log"),
		SupervisorLogPath: filepath.Join(dir, "image_service.log"),
	}

	logger, supervisorLog, closer := New(cfg)
	sink := LineSink(supervisorLog, "stdout")
	sink("Loading model into memory")
	logger.Info("runner event, not a supervisor line")
	require.NoError(t, closer.Close())

	sup, err := os.ReadFile(cfg.SupervisorLogPath)
	require.NoError(t, err)
	require.Contains(t, string(sup), "Loading model into memory")
	require.NotContains(t, string(sup), "runner event")

	main, err := os.ReadFile(cfg.MainLogPath)
	require.NoError(t, err)
	require.NotContains(t, string(main), "Loading model into memory")
}

func TestEnsureLogDirCreatesParent(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "logs", "sub")
	require.NoError(t, EnsureLogDir(filepath.Join(nested, "main.log")))

	info, err := os.Stat(nested)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
