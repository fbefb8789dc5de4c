// Package transcript parses "*_transkript.txt" session transcripts into
// metadata, timestamped segments, and a derived scene name.
package transcript

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ErrNotFound is returned when the transcript file does not exist.
var ErrNotFound = errors.New("transcript: file not found")

const sceneSuffix = "_transkript.txt"

// Segment is a single timestamped utterance.
type Segment struct {
	Start string
	End   string
	Text  string
}

// Transcript is the parsed result of a transcript file.
type Transcript struct {
	Metadata  map[string]string
	Volltext  string
	Segments  []Segment
	SceneName string
}

var segmentPattern = regexp.MustCompile(`^\[(\d\d:\d\d\.\d\d) - (\d\d:\d\d\.\d\d)\] (.+)$`)

var metadataPrefixes = map[string]string{
	"Transkript für:": "audio_file",
	"Datum:":          "datum",
	"Sprache:":        "sprache",
	"Konfidenz:":      "konfidenz",
	"Dauer:":          "dauer",
}

// Parse reads and parses the transcript at path. Parsing is total:
// unknown metadata lines are ignored and malformed segment lines are
// skipped. Returns ErrNotFound if the file is missing.
func Parse(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("transcript: read %s: %w", path, err)
	}

	t := &Transcript{
		Metadata:  map[string]string{},
		SceneName: SceneNameFromFilename(path),
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")

	for i, line := range lines {
		if i >= 10 {
			break
		}
		parseMetadataLine(t.Metadata, line)
	}

	inVolltext := false
	inSegments := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch trimmed {
		case "VOLLTEXT:":
			inVolltext = true
			inSegments = false
			continue
		case "ZEITGESTEMPELTE SEGMENTE:":
			inVolltext = false
			inSegments = true
			continue
		}
		if strings.HasPrefix(line, "=====") {
			continue
		}
		if trimmed == "" {
			continue
		}
		if inVolltext {
			t.Volltext = trimmed
		}
		if inSegments {
			if m := segmentPattern.FindStringSubmatch(line); m != nil {
				t.Segments = append(t.Segments, Segment{
					Start: m[1],
					End:   m[2],
					Text:  strings.TrimSpace(m[3]),
				})
			}
		}
	}

	return t, nil
}

func parseMetadataLine(metadata map[string]string, line string) {
	for prefix, key := range metadataPrefixes {
		if strings.HasPrefix(line, prefix) {
			_, value, found := strings.Cut(line, ": ")
			if found {
				metadata[key] = value
			}
			return
		}
	}
}

// SceneNameFromFilename strips the "_transkript.txt" suffix (and any
// directory components) from a transcript path.
func SceneNameFromFilename(path string) string {
	base := path
	if idx := strings.LastIndexAny(base, `/\`); idx >= 0 {
		base = base[idx+1:]
	}
	return strings.TrimSuffix(base, sceneSuffix)
}

// SegmentsAsText renders segments back into the documented
// "[start - end] text" wire format, one per line.
func SegmentsAsText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, fmt.Sprintf("[%s - %s] %s", s.Start, s.End, s.Text))
	}
	return strings.Join(parts, "\n")
}

// PlainText concatenates segment text only, space-separated.
func PlainText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

// IsTranscriptFilename reports whether name matches the "*_transkript.txt" pattern.
func IsTranscriptFilename(name string) bool {
	return strings.HasSuffix(name, sceneSuffix) && name != sceneSuffix
}
