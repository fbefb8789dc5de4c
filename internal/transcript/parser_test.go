package transcript

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `Transkript für: scene_20250620_sz001.wav
Datum: 2025-06-20
Sprache: de
Konfidenz: 0.92
Dauer: 00:04.00

VOLLTEXT:
hello world

ZEITGESTEMPELTE SEGMENTE:
[00:00.00 - 00:02.50] hello
[00:02.50 - 00:04.00] world
this line is not a segment and is skipped
`

func writeSample(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scene_20250620_sz001_transkript.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseHappyPath(t *testing.T) {
	path := writeSample(t, sample)

	tr, err := Parse(path)
	require.NoError(t, err)
	require.Equal(t, "scene_20250620_sz001", tr.SceneName)
	require.Equal(t, "de", tr.Metadata["sprache"])
	require.Len(t, tr.Segments, 2)
	require.Equal(t, "hello", tr.Segments[0].Text)
	require.Equal(t, "world", tr.Segments[1].Text)
}

func TestParseMissingFile(t *testing.T) {
	_, err := Parse(filepath.Join(t.TempDir(), "missing_transkript.txt"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestParseEmptyTranscriptHasNoSegments(t *testing.T) {
	path := writeSample(t, "Transkript für: x.wav\n\nVOLLTEXT:\n\nZEITGESTEMPELTE SEGMENTE:\n")
	tr, err := Parse(path)
	require.NoError(t, err)
	require.Empty(t, tr.Segments)
}

func TestParseMalformedSegmentLinesAreSkipped(t *testing.T) {
	path := writeSample(t, "ZEITGESTEMPELTE SEGMENTE:\n[bad] not a segment\n[00:00.00 - 00:01.00] good\n")
	tr, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, tr.Segments, 1)
	require.Equal(t, "good", tr.Segments[0].Text)
}

func TestSegmentRoundTrip(t *testing.T) {
	path := writeSample(t, sample)
	tr, err := Parse(path)
	require.NoError(t, err)

	text := SegmentsAsText(tr.Segments)
	dir := t.TempDir()
	out := filepath.Join(dir, "scene_roundtrip_transkript.txt")
	require.NoError(t, os.WriteFile(out, []byte("ZEITGESTEMPELTE SEGMENTE:\n"+text+"\n"), 0o644))

	reparsed, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, tr.Segments, reparsed.Segments)
}
