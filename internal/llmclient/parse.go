package llmclient

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// SceneDescription is the parsed, sanitized result of an Analyze call.
// The four core fields (Szenenbeschreibung, DndstylePrompt,
// WichtigeElemente, Stimmung) match the structured scene description
// contract; ImageName is derived separately since neither the
// documented section format nor the structured JSON shape is
// guaranteed to carry a clean filename.
type SceneDescription struct {
	Szenenbeschreibung string
	DndstylePrompt     string
	WichtigeElemente   []string
	Stimmung           string
	ImageName          string
	RawImageName       string
	Structured         bool
}

var (
	thinkClosePattern = regexp.MustCompile(`(?s)</think>`)

	promptPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)DNDSTYLE IMAGE PROMPT:\s*(.+?)(?:\nIMAGE NAME:|$)`),
		regexp.MustCompile(`(?is)IMAGE PROMPT:\s*(.+?)(?:\nIMAGE NAME:|$)`),
		regexp.MustCompile(`(?is)PROMPT:\s*(.+?)(?:\nIMAGE NAME:|$)`),
		regexp.MustCompile(`(?is)dndstyle[,\s]+(.+?)(?:\nIMAGE NAME:|$)`),
	}
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)IMAGE NAME:\s*(.+?)(?:\n|$)`),
		regexp.MustCompile(`(?i)NAME:\s*(.+?)(?:\n|$)`),
		regexp.MustCompile(`(?i)FILENAME:\s*(.+?)(?:\n|$)`),
	}
	sceneAnalysisPattern = regexp.MustCompile(`(?is)SCENE ANALYSIS:\s*(.+?)(?:\nDNDSTYLE IMAGE PROMPT:|\nIMAGE PROMPT:|\nPROMPT:|$)`)
	dndstyleSubstring    = regexp.MustCompile(`(?i)(dndstyle[^.!?\n]+)`)

	leadingAsterisks         = regexp.MustCompile(`^\*+\s*`)
	leadingTrailingAsterisks = regexp.MustCompile(`^\*+\s*|\s*\*+$`)
	parenthetical            = regexp.MustCompile(`\s*\([^)]*\)`)
	nonASCII                 = regexp.MustCompile(`[^\x00-\x7F]`)
	nonAlphanumeric          = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	repeatedUnderscores      = regexp.MustCompile(`_{2,}`)
)

const (
	fallbackPrompt = "dndstyle fantasy adventure scene, dungeons and dragons style illustration"
	fallbackName   = "fallback_scene"
	minNameLength  = 3
	maxNameLength  = 35
)

// ParseOptions carries the inputs that vary between real use and tests.
type ParseOptions struct {
	TriggerToken string
	Now          func() time.Time
}

// Parse extracts a SceneDescription from raw model output. It tries a
// structured JSON response first, then the documented section format
// via regex, then a dndstyle-substring fallback, and finally a fixed
// literal fallback. Parse never fails: every path terminates in a
// usable SceneDescription.
func Parse(raw string, opts ParseOptions) *SceneDescription {
	if opts.TriggerToken == "" {
		opts.TriggerToken = "dndstyle"
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	clean := stripThink(raw)

	if desc := parseStructured(clean); desc != nil {
		return finish(desc, opts.TriggerToken, now())
	}

	analysis, prompt, name := parseSections(clean)
	if prompt == "" || name == "" {
		prompt, name = parseDndstyleFallback(clean)
	}

	desc := &SceneDescription{Szenenbeschreibung: analysis, DndstylePrompt: prompt, RawImageName: name}
	return finish(desc, opts.TriggerToken, now())
}

func stripThink(raw string) string {
	loc := thinkClosePattern.FindStringIndex(raw)
	if loc == nil {
		return raw
	}
	return strings.TrimSpace(raw[loc[1]:])
}

func parseStructured(clean string) *SceneDescription {
	trimmed := strings.TrimSpace(clean)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var candidate any
	if err := json.Unmarshal([]byte(trimmed), &candidate); err != nil {
		return nil
	}
	schema, err := sceneSchema()
	if err != nil || schema == nil {
		return nil
	}
	if err := schema.Validate(candidate); err != nil {
		return nil
	}
	var s structuredScene
	if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
		return nil
	}
	return &SceneDescription{
		Szenenbeschreibung: s.Szenenbeschreibung,
		DndstylePrompt:     leadingAsterisks.ReplaceAllString(strings.TrimSpace(s.DndstylePrompt), ""),
		WichtigeElemente:   s.WichtigeElemente,
		Stimmung:           s.Stimmung,
		RawImageName:       s.ImageName,
		Structured:         true,
	}
}

func parseSections(clean string) (analysis, prompt, name string) {
	if m := sceneAnalysisPattern.FindStringSubmatch(clean); m != nil {
		analysis = strings.TrimSpace(m[1])
	}
	for _, p := range promptPatterns {
		if m := p.FindStringSubmatch(clean); m != nil {
			prompt = leadingAsterisks.ReplaceAllString(strings.TrimSpace(m[1]), "")
			break
		}
	}
	for _, p := range namePatterns {
		if m := p.FindStringSubmatch(clean); m != nil {
			name = strings.TrimSpace(m[1])
			break
		}
	}
	return analysis, prompt, name
}

func parseDndstyleFallback(clean string) (prompt, name string) {
	if m := dndstyleSubstring.FindStringSubmatch(clean); m != nil {
		return strings.TrimSpace(m[1]), "generated_scene"
	}
	return fallbackPrompt, fallbackName
}

func finish(desc *SceneDescription, trigger string, now time.Time) *SceneDescription {
	desc.DndstylePrompt = asciiSafePrompt(desc.DndstylePrompt)
	if desc.DndstylePrompt == "" {
		desc.DndstylePrompt = fallbackPrompt
	}
	if !strings.HasPrefix(strings.ToLower(desc.DndstylePrompt), trigger) {
		desc.DndstylePrompt = trigger + ", " + desc.DndstylePrompt
	}
	desc.ImageName = SanitizeImageName(desc.RawImageName, now)
	return desc
}

// asciiSafePrompt strips non-ASCII code points from a model-provided
// prompt and collapses the whitespace that removal leaves behind. The
// prompt is otherwise left as free text; unlike the image name it is
// not restricted to alphanumerics.
func asciiSafePrompt(prompt string) string {
	if !nonASCII.MatchString(prompt) {
		return prompt
	}
	cleaned := nonASCII.ReplaceAllString(prompt, "")
	return strings.TrimSpace(strings.Join(strings.Fields(cleaned), " "))
}

// SanitizeImageName runs the documented cleanup pipeline on a raw,
// model-provided name and prepends an HHMM timestamp: strip asterisks,
// drop parenthetical annotations, force ASCII, collapse to
// alphanumeric-and-underscore, trim, and bound the length.
func SanitizeImageName(raw string, now time.Time) string {
	name := leadingTrailingAsterisks.ReplaceAllString(raw, "")
	name = parenthetical.ReplaceAllString(name, "")
	name = nonASCII.ReplaceAllString(name, "_")
	name = nonAlphanumeric.ReplaceAllString(name, "_")
	name = repeatedUnderscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")

	if len(name) < minNameLength {
		name = "generated_scene"
	}
	if len(name) > maxNameLength {
		name = strings.TrimRight(name[:maxNameLength], "_")
	}

	return now.Format("1504") + "_" + name
}
