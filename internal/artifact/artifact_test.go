package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathsUseDocumentedSuffixes(t *testing.T) {
	require.Equal(t, filepath.Join("dir", "scene_metadata.json"), MetadataPath("dir", "scene"))
	require.Equal(t, filepath.Join("dir", "scene_image.png"), ImagePath("dir", "scene"))
	require.Equal(t, filepath.Join("dir", "scene_error.json"), ErrorPath("dir", "scene"))
	require.Equal(t, "scene_image.png", ImageFilename("scene"))
}

func TestCompleteRequiresBothFiles(t *testing.T) {
	dir := t.TempDir()
	require.False(t, Complete(dir, "scene"))

	require.NoError(t, os.WriteFile(MetadataPath(dir, "scene"), []byte("{}"), 0o644))
	require.False(t, Complete(dir, "scene"))

	require.NoError(t, os.WriteFile(ImagePath(dir, "scene"), []byte{}, 0o644))
	require.True(t, Complete(dir, "scene"))
}
