// Package sceneproc drives a single transcript through the
// parse → prompt → render → persist state machine and writes the
// resulting metadata or error artifact.
package sceneproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/dndvisualizer/internal/artifact"
	"github.com/haasonsaas/dndvisualizer/internal/imageclient"
	"github.com/haasonsaas/dndvisualizer/internal/llmclient"
	"github.com/haasonsaas/dndvisualizer/internal/metrics"
	"github.com/haasonsaas/dndvisualizer/internal/transcript"
)

// FallbackMode governs behavior when the image server is known
// unreachable at the start of a processing cycle.
type FallbackMode string

const (
	FallbackSkip       FallbackMode = "skip"
	FallbackPromptOnly FallbackMode = "prompt_only"
	FallbackMock       FallbackMode = "mock"
)

// Reason classifies why a scene ended in Failed.
type Reason string

const (
	ReasonParseError Reason = "ParseError"
	ReasonLLMError   Reason = "LLMError"
	ReasonImageError Reason = "ImageError"
)

// Status is the terminal outcome of a Process call.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Result summarizes the outcome of processing one scene.
type Result struct {
	Scene  string
	Status Status
	Reason Reason
}

// Config configures a Processor.
type Config struct {
	OutputDir    string
	MaxRetries   int
	RetryDelay   time.Duration
	TriggerToken string
	FallbackMode FallbackMode
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.TriggerToken == "" {
		c.TriggerToken = "dndstyle"
	}
	if c.FallbackMode == "" {
		c.FallbackMode = FallbackSkip
	}
	return c
}

// Processor runs the per-scene state machine.
type Processor struct {
	cfg     Config
	llm     *llmclient.Client
	img     *imageclient.Client
	logger  *slog.Logger
	now     func() time.Time
	metrics *metrics.Metrics
}

// SetMetrics attaches a Metrics instance for scene-outcome and
// duration instrumentation. Safe to omit; Process is a no-op on the
// metrics side when none is attached.
func (p *Processor) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// New creates a Processor.
func New(cfg Config, llm *llmclient.Client, img *imageclient.Client, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:    cfg.withDefaults(),
		llm:    llm,
		img:    img,
		logger: logger.With("component", "sceneproc"),
		now:    time.Now,
	}
}

// Process drives transcriptPath through Parsed → Prompted → Rendering
// → Completed/Failed. imageServerAvailable is the caller's
// reachability check for this cycle; it governs only the fallback
// decision (skip is decided right after parsing, before the LLM is
// called; prompt_only and mock right after the LLM), not mid-attempt
// failures.
func (p *Processor) Process(ctx context.Context, transcriptPath string, imageServerAvailable bool) Result {
	start := p.now()
	scene := transcript.SceneNameFromFilename(transcriptPath)
	filename := filepath.Base(transcriptPath)

	if p.metrics != nil {
		p.metrics.ScenesInFlight.Inc()
		defer p.metrics.ScenesInFlight.Dec()
	}

	result := p.process(ctx, transcriptPath, scene, filename, imageServerAvailable, start)

	if p.metrics != nil {
		p.metrics.ScenesProcessed.WithLabelValues(string(result.Status), string(result.Reason)).Inc()
		p.metrics.SceneProcessingDuration.WithLabelValues(string(result.Status)).Observe(p.now().Sub(start).Seconds())
	}
	return result
}

func (p *Processor) process(ctx context.Context, transcriptPath, scene, filename string, imageServerAvailable bool, start time.Time) Result {
	tr, err := transcript.Parse(transcriptPath)
	if err != nil {
		p.writeError(scene, filename, ReasonParseError, err.Error(), nil, 0)
		return Result{Scene: scene, Status: StatusFailed, Reason: ReasonParseError}
	}

	if !imageServerAvailable && p.cfg.FallbackMode == FallbackSkip {
		p.logger.Info("image server unreachable, skipping cycle", "scene", scene)
		return Result{Scene: scene, Status: StatusSkipped}
	}

	segmentsText := transcript.SegmentsAsText(tr.Segments)
	rawResponse, err := p.llm.Analyze(ctx, segmentsText)
	p.recordLLMOutcome(err)
	if err != nil {
		p.writeError(scene, filename, ReasonLLMError, err.Error(), nil, 0)
		return Result{Scene: scene, Status: StatusFailed, Reason: ReasonLLMError}
	}

	desc := llmclient.Parse(rawResponse, llmclient.ParseOptions{TriggerToken: p.cfg.TriggerToken, Now: p.now})

	if !imageServerAvailable {
		return p.processFallback(tr, scene, filename, rawResponse, desc, start)
	}

	return p.render(ctx, tr, scene, filename, rawResponse, desc, start)
}

func (p *Processor) processFallback(tr *transcript.Transcript, scene, filename, rawResponse string, desc *llmclient.SceneDescription, start time.Time) Result {
	switch p.cfg.FallbackMode {
	case FallbackPromptOnly:
		p.writeMetadata(tr, scene, filename, rawResponse, desc, nil, "", 1, start,
			"image server unreachable at cycle start: prompt_only fallback, no image rendered")
		return Result{Scene: scene, Status: StatusCompleted}
	case FallbackMock:
		imageName := artifact.ImageFilename(scene)
		if err := os.WriteFile(artifact.ImagePath(p.cfg.OutputDir, scene), []byte{}, 0o644); err != nil {
			p.logger.Error("failed to write mock placeholder image", "scene", scene, "error", err)
		}
		p.writeMetadata(tr, scene, filename, rawResponse, desc, nil, imageName, 1, start,
			"image server unreachable at cycle start: mock fallback, placeholder image written")
		return Result{Scene: scene, Status: StatusCompleted}
	default:
		return Result{Scene: scene, Status: StatusSkipped}
	}
}

func (p *Processor) render(ctx context.Context, tr *transcript.Transcript, scene, filename, rawResponse string, desc *llmclient.SceneDescription, start time.Time) Result {
	imageName := artifact.ImageFilename(scene)

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		resp, err := p.img.Generate(desc.DndstylePrompt, imageName)
		p.recordImageOutcome(err)
		if err == nil {
			p.writeMetadata(tr, scene, filename, rawResponse, desc, &resp.Timings, resp.File, attempt, start, "")
			return Result{Scene: scene, Status: StatusCompleted}
		}

		var ierr *imageclient.Error
		if !errors.As(err, &ierr) || !ierr.Retryable() {
			p.writeError(scene, filename, ReasonImageError, err.Error(), desc, attempt)
			return Result{Scene: scene, Status: StatusFailed, Reason: ReasonImageError}
		}

		lastErr = err
		if attempt < p.cfg.MaxRetries {
			p.logger.Warn("image server unreachable, retrying", "scene", scene, "attempt", attempt)
			select {
			case <-ctx.Done():
				p.writeError(scene, filename, ReasonImageError, ctx.Err().Error(), desc, attempt)
				return Result{Scene: scene, Status: StatusFailed, Reason: ReasonImageError}
			case <-time.After(p.cfg.RetryDelay):
			}
		}
	}

	p.writeError(scene, filename, ReasonImageError, lastErr.Error(), desc, p.cfg.MaxRetries)
	return Result{Scene: scene, Status: StatusFailed, Reason: ReasonImageError}
}

// Metadata is the persisted record for a completed scene.
type Metadata struct {
	SceneName       string                       `json:"scene_name"`
	TranscriptFile  string                       `json:"transcript_file"`
	GeneratedAt     string                       `json:"generated_at"`
	DurationSeconds float64                      `json:"duration_seconds"`
	TranscriptMeta  map[string]string            `json:"transcript_metadata"`
	SegmentCount    int                          `json:"segment_count"`
	SegmentsText    string                       `json:"segments_text"`
	LLMResult       *llmclient.SceneDescription  `json:"llm_result"`
	RawLLMResponse  string                       `json:"raw_llm_response"`
	FinalPrompt     string                       `json:"final_prompt"`
	ImageFilename   string                       `json:"image_filename,omitempty"`
	ImageTimings    *imageclient.Timings         `json:"image_timings,omitempty"`
	Attempts        int                          `json:"attempts"`
	Details         string                       `json:"details,omitempty"`
}

// ErrorRecord is the persisted record for a definitively failed scene.
type ErrorRecord struct {
	SceneName          string                      `json:"scene_name"`
	Error              string                      `json:"error"`
	Reason             Reason                      `json:"reason"`
	Timestamp          string                      `json:"timestamp"`
	DndstylePrompt     string                      `json:"dndstyle_prompt,omitempty"`
	Szenenbeschreibung string                      `json:"szenenbeschreibung,omitempty"`
	LLMResult          *llmclient.SceneDescription `json:"llm_result,omitempty"`
	FailedAttempts     int                         `json:"failed_attempts"`
}

func (p *Processor) writeMetadata(tr *transcript.Transcript, scene, filename, rawResponse string, desc *llmclient.SceneDescription, timings *imageclient.Timings, imageFile string, attempts int, start time.Time, details string) {
	meta := Metadata{
		SceneName:       scene,
		TranscriptFile:  filename,
		GeneratedAt:     p.now().UTC().Format(time.RFC3339),
		DurationSeconds: p.now().Sub(start).Seconds(),
		TranscriptMeta:  tr.Metadata,
		SegmentCount:    len(tr.Segments),
		SegmentsText:    transcript.SegmentsAsText(tr.Segments),
		LLMResult:       desc,
		RawLLMResponse:  rawResponse,
		FinalPrompt:     desc.DndstylePrompt,
		ImageFilename:   imageFile,
		ImageTimings:    timings,
		Attempts:        attempts,
		Details:         details,
	}

	if err := writeJSON(artifact.MetadataPath(p.cfg.OutputDir, scene), meta); err != nil {
		p.logger.Error("failed to write metadata", "scene", scene, "error", err)
		return
	}

	errPath := artifact.ErrorPath(p.cfg.OutputDir, scene)
	if _, err := os.Stat(errPath); err == nil {
		if err := os.Remove(errPath); err != nil {
			p.logger.Warn("failed to remove stale error file", "scene", scene, "error", err)
		}
	}
}

func (p *Processor) writeError(scene, filename string, reason Reason, message string, desc *llmclient.SceneDescription, attempts int) {
	rec := ErrorRecord{
		SceneName:      scene,
		Error:          message,
		Reason:         reason,
		Timestamp:      p.now().UTC().Format(time.RFC3339),
		FailedAttempts: attempts,
		LLMResult:      desc,
	}
	if desc != nil {
		rec.DndstylePrompt = desc.DndstylePrompt
		rec.Szenenbeschreibung = desc.Szenenbeschreibung
	}

	if err := writeJSON(artifact.ErrorPath(p.cfg.OutputDir, scene), rec); err != nil {
		p.logger.Error("failed to write error record", "scene", scene, "transcript", filename, "error", err)
	}
}

func (p *Processor) recordLLMOutcome(err error) {
	if p.metrics == nil {
		return
	}
	outcome := "success"
	var herr *llmclient.HostError
	if errors.As(err, &herr) {
		outcome = string(herr.Kind)
	} else if err != nil {
		outcome = "error"
	}
	p.metrics.LLMHostRequests.WithLabelValues(outcome).Inc()
}

func (p *Processor) recordImageOutcome(err error) {
	if p.metrics == nil {
		return
	}
	outcome := "success"
	var ierr *imageclient.Error
	if errors.As(err, &ierr) {
		outcome = string(ierr.Kind)
	} else if err != nil {
		outcome = "error"
	}
	p.metrics.ImageServerRequests.WithLabelValues(outcome).Inc()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("sceneproc: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("sceneproc: mkdir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
