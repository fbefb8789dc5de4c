// Package llmclient talks to the local Ollama-style LLM host: it
// health-checks the required model, sends the scene analysis prompt,
// and hands the raw response to the parser.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config configures a Client.
type Config struct {
	BaseURL       string
	Model         string
	RequiredModel string
	Temperature   float64
	TopP          float64
	NumPredict    int
	NumCtx        int
	RequestTimeout time.Duration
	RetryCount     int
	RetryDelay     time.Duration
	TriggerToken   string
}

func (c Config) withDefaults() Config {
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.TopP == 0 {
		c.TopP = 0.9
	}
	if c.NumPredict == 0 {
		c.NumPredict = 1500
	}
	if c.NumCtx == 0 {
		c.NumCtx = 4096
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 120 * time.Second
	}
	if c.RetryCount <= 0 {
		c.RetryCount = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.TriggerToken == "" {
		c.TriggerToken = "dndstyle"
	}
	return c
}

// Client is a small HTTP client for the Ollama chat and tags endpoints.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Client from cfg.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// HealthCheck reports whether the host is reachable and serving the
// required model. It mirrors the supervisor's readiness probe.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("llmclient: build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &HostError{Kind: KindUnreachable, Message: "host unreachable", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HostError{Kind: KindUnreachable, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return &HostError{Kind: KindProtocolError, Message: "malformed /api/tags response", Cause: err}
	}

	required := c.cfg.RequiredModel
	if required == "" {
		required = c.cfg.Model
	}
	for _, m := range tags.Models {
		if m.Name == required {
			return nil
		}
	}
	return &HostError{Kind: KindModelMissing, Message: fmt.Sprintf("required model %q not loaded", required)}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
	NumCtx      int     `json:"num_ctx"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Options  chatOptions   `json:"options"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Response string `json:"response"`
}

// Analyze sends the transcript excerpt to the model and returns the raw
// response text, making up to cfg.RetryCount attempts with a fixed
// delay between them; any failed attempt (transport error, non-200
// status, or malformed or empty response) is retried.
func (c *Client) Analyze(ctx context.Context, transcriptExcerpt string) (string, error) {
	fullPrompt := systemPrompt() + "\n\n" + userPrompt(transcriptExcerpt)

	body := chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: fullPrompt}},
		Options: chatOptions{
			Temperature: c.cfg.Temperature,
			TopP:        c.cfg.TopP,
			NumPredict:  c.cfg.NumPredict,
			NumCtx:      c.cfg.NumCtx,
		},
		Stream: false,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llmclient: marshal chat request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryCount; attempt++ {
		text, err := c.chatOnce(ctx, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if attempt < c.cfg.RetryCount {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.cfg.RetryDelay):
			}
		}
	}
	return "", fmt.Errorf("llmclient: analysis failed after %d attempts: %w", c.cfg.RetryCount, lastErr)
}

func (c *Client) chatOnce(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &HostError{Kind: KindUnreachable, Message: "chat request failed", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &HostError{Kind: KindProtocolError, Message: "read chat response", Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &HostError{Kind: KindUnreachable, Message: fmt.Sprintf("chat status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &HostError{Kind: KindProtocolError, Message: "malformed chat response", Cause: err}
	}
	if parsed.Message.Content != "" {
		return parsed.Message.Content, nil
	}
	if parsed.Response != "" {
		return parsed.Response, nil
	}
	return "", &HostError{Kind: KindProtocolError, Message: "empty or unrecognized chat response"}
}

// Kind classifies an LLM host failure.
type Kind string

const (
	KindUnreachable  Kind = "unreachable"
	KindProtocolError Kind = "protocol_error"
	KindModelMissing Kind = "model_missing"
)

// HostError wraps a classified LLM host failure.
type HostError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *HostError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llmclient: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("llmclient: %s: %s", e.Kind, e.Message)
}

func (e *HostError) Unwrap() error { return e.Cause }

func systemPrompt() string {
	return `You are an expert Dungeons & Dragons scene analyst and image prompt generator specialized for the "dndstyle" LoRA model.

Your task is to:
1. Analyze the provided D&D session transcript excerpt
2. Identify the current situation, location, characters, and atmosphere
3. Generate a detailed image generation prompt optimized for the "dndstyle" model

CRITICAL OUTPUT FORMAT:
You MUST format your response EXACTLY as follows (after any thinking):

SCENE ANALYSIS: [Brief description of what's happening]

DNDSTYLE IMAGE PROMPT: dndstyle, [your detailed prompt here]

IMAGE NAME: [descriptive filename without extension, use underscores instead of spaces]

IMAGE PROMPT REQUIREMENTS:
- MUST start with "dndstyle" as the trigger word
- Be optimized for a LoRA model trained on D&D illustrations
- Capture key visual elements (characters, environment, objects, lighting)
- Focus on the most dramatic or visually interesting moment
- Include specific D&D fantasy elements (races, classes, equipment, creatures)
- Include atmospheric details (mood, lighting, weather, dungeon ambiance)
- Be concise but descriptive (avoid overly long prompts)
- Use D&D-specific terminology and visual style descriptions

IMAGE NAME REQUIREMENTS:
- ONLY use ASCII letters (a-z, A-Z), numbers (0-9), and underscores (_)
- NO special characters, spaces, accents, or non-English characters
- Maximum 50 characters long
- Use descriptive English words separated by underscores

Remember: The output format is CRITICAL. Always include all three sections exactly as shown. The IMAGE NAME must be valid ASCII-only filename.`
}

func userPrompt(transcriptExcerpt string) string {
	return fmt.Sprintf(`Here is a D&D session transcript excerpt from the last few minutes:

%s

Please analyze this transcript and generate an appropriate image generation prompt for the current scene.`, transcriptExcerpt)
}
