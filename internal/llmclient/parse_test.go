package llmclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(hhmm string) func() time.Time {
	t, _ := time.Parse("1504", hhmm)
	return func() time.Time { return t }
}

func TestParseStructuredJSON(t *testing.T) {
	raw := `{"szenenbeschreibung":"party enters a crypt","dndstyle_prompt":"dndstyle, adventurers enter a crypt, torchlight","wichtige_elemente":["crypt","torchlight"],"stimmung":"tense","image_name":"party_enters_crypt"}`
	desc := Parse(raw, ParseOptions{Now: fixedClock("0130")})
	require.True(t, desc.Structured)
	require.Equal(t, "party enters a crypt", desc.Szenenbeschreibung)
	require.Equal(t, []string{"crypt", "torchlight"}, desc.WichtigeElemente)
	require.Equal(t, "0130_party_enters_crypt", desc.ImageName)
}

func TestParseDocumentedSectionFormat(t *testing.T) {
	raw := `SCENE ANALYSIS: The party discovers a hidden chamber.

DNDSTYLE IMAGE PROMPT: dndstyle, fantasy adventurers in ancient stone chamber, dramatic lighting

IMAGE NAME: party_discovers_artifact_chamber`
	desc := Parse(raw, ParseOptions{Now: fixedClock("0915")})
	require.False(t, desc.Structured)
	require.Contains(t, desc.Szenenbeschreibung, "hidden chamber")
	require.Contains(t, desc.DndstylePrompt, "fantasy adventurers")
	require.Equal(t, "0915_party_discovers_artifact_chamber", desc.ImageName)
}

func TestParseStripsThinkBlock(t *testing.T) {
	raw := "<think>reasoning the model does not want to show</think>\nDNDSTYLE IMAGE PROMPT: dndstyle, a dragon in a cave\n\nIMAGE NAME: dragon_cave"
	desc := Parse(raw, ParseOptions{Now: fixedClock("2200")})
	require.NotContains(t, desc.DndstylePrompt, "reasoning")
	require.Equal(t, "2200_dragon_cave", desc.ImageName)
}

func TestParseFallsBackToDndstyleSubstring(t *testing.T) {
	raw := "Some rambling unstructured text. dndstyle, a lone knight before a castle gate, stormy skies. More text after."
	desc := Parse(raw, ParseOptions{Now: fixedClock("0001")})
	require.Contains(t, desc.DndstylePrompt, "lone knight")
	require.Equal(t, "0001_generated_scene", desc.ImageName)
}

func TestParseFallsBackToLiteralWhenNothingMatches(t *testing.T) {
	desc := Parse("completely unrelated gibberish with no markers at all", ParseOptions{Now: fixedClock("1230")})
	require.Equal(t, fallbackPrompt, desc.DndstylePrompt)
	require.Equal(t, "1230_fallback_scene", desc.ImageName)
}

func TestParseStripsNonASCIIFromPrompt(t *testing.T) {
	raw := "DNDSTYLE IMAGE PROMPT: dndstyle, a lönely castle in the möors\n\nIMAGE NAME: castle"
	desc := Parse(raw, ParseOptions{Now: fixedClock("0400")})
	require.Equal(t, "dndstyle, a lnely castle in the mors", desc.DndstylePrompt)
}

func TestAsciiSafePromptCollapsesWhitespaceLeftByStrippedRunes(t *testing.T) {
	got := asciiSafePrompt("a dndstyle ü castle")
	require.Equal(t, "a dndstyle castle", got)
}

func TestAsciiSafePromptLeavesPureASCIIUnchanged(t *testing.T) {
	got := asciiSafePrompt("dndstyle, a quiet clearing")
	require.Equal(t, "dndstyle, a quiet clearing", got)
}

func TestSanitizeImageNameStripsAsterisksAndParens(t *testing.T) {
	got := SanitizeImageName("**Ancient Chamber (Secret Room)**", fixedClock("0600")())
	require.Equal(t, "0600_Ancient_Chamber", got)
}

func TestSanitizeImageNameReplacesNonASCII(t *testing.T) {
	got := SanitizeImageName("höhle_des_drachen", fixedClock("1800")())
	require.Equal(t, "1800_h_hle_des_drachen", got)
}

func TestSanitizeImageNameTruncatesAndTrims(t *testing.T) {
	long := "a_very_long_descriptive_scene_name_that_exceeds_the_limit"
	got := SanitizeImageName(long, fixedClock("0000")())
	require.LessOrEqual(t, len(got), len("0000_")+maxNameLength)
	require.True(t, len(got) > 0)
}

func TestSanitizeImageNameFallsBackWhenTooShort(t *testing.T) {
	got := SanitizeImageName("**", fixedClock("1111")())
	require.Equal(t, "1111_generated_scene", got)
}
