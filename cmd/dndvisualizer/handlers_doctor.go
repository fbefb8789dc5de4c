package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/dndvisualizer/internal/config"
	"github.com/haasonsaas/dndvisualizer/internal/imageclient"
	"github.com/haasonsaas/dndvisualizer/internal/llmclient"
)

// runDoctor validates configuration and probes the pipeline's two
// external dependencies, reporting a pass/fail line for each check.
func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "DNDVISUALIZER DOCTOR")
	fmt.Fprintln(out)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(out, "[FAIL] load config %s: %v\n", configPath, err)
		return err
	}
	fmt.Fprintf(out, "[ OK ] config loaded from %s\n", configPath)

	failed := false
	check := func(label string, err error) {
		if err != nil {
			fmt.Fprintf(out, "[FAIL] %s: %v\n", label, err)
			failed = true
			return
		}
		fmt.Fprintf(out, "[ OK ] %s\n", label)
	}

	check("watched directory writable", checkWritable(cfg.Paths.WatchedDir))
	check("scene output directory writable", checkWritable(cfg.Paths.SceneDir))

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	llm := llmclient.New(llmclient.Config{
		BaseURL:       cfg.LLM.BaseURL,
		Model:         cfg.LLM.Model,
		RequiredModel: cfg.LLM.RequiredModel,
	})
	check(fmt.Sprintf("LLM host reachable at %s", cfg.LLM.BaseURL), llm.HealthCheck(ctx))

	img := imageclient.New(imageclient.Config{Host: cfg.Image.Host, Port: cfg.Image.Port})
	check(fmt.Sprintf("image server reachable at %s:%d", cfg.Image.Host, cfg.Image.Port), img.Probe())

	fmt.Fprintln(out)
	if failed {
		fmt.Fprintln(out, "One or more checks failed.")
		return fmt.Errorf("doctor: one or more checks failed")
	}
	fmt.Fprintln(out, "All checks passed.")
	return nil
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe, err := os.CreateTemp(dir, ".doctor_probe_*")
	if err != nil {
		return err
	}
	name := probe.Name()
	if err := probe.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
