package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, FallbackSkip, cfg.Pipeline.FallbackMode)
	require.FileExists(t, path)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Paths.WatchedDir, reloaded.Paths.WatchedDir)
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("totally_unknown_key: 42\nimage:\n  host: example.test\n  port: 9\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "example.test", cfg.Image.Host)
	require.Equal(t, 9, cfg.Image.Port)
}

func TestLoadFailsFastOnInvalidFallbackMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  fallback_mode: bogus\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestIncludeDirectiveMerges(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	mainPath := filepath.Join(dir, "config.yaml")

	require.NoError(t, os.WriteFile(basePath, []byte("image:\n  host: base-host\n  port: 1\n"), 0o644))
	require.NoError(t, os.WriteFile(mainPath, []byte("$include: base.yaml\nimage:\n  port: 2\n"), 0o644))

	raw, err := loadRaw(mainPath)
	require.NoError(t, err)
	cfg, err := decodeRawConfig(raw)
	require.NoError(t, err)
	require.Equal(t, "base-host", cfg.Image.Host)
	require.Equal(t, 2, cfg.Image.Port)
}
