// Package artifact names and locates the per-scene output files the
// Scene Processor writes: metadata, image, and error records.
package artifact

import (
	"os"
	"path/filepath"
)

const (
	metadataSuffix = "_metadata.json"
	imageSuffix    = "_image.png"
	errorSuffix    = "_error.json"
)

// MetadataPath returns the metadata record path for scene in dir.
func MetadataPath(dir, scene string) string {
	return filepath.Join(dir, scene+metadataSuffix)
}

// ImagePath returns the rendered image path for scene in dir.
func ImagePath(dir, scene string) string {
	return filepath.Join(dir, scene+imageSuffix)
}

// ErrorPath returns the error record path for scene in dir.
func ErrorPath(dir, scene string) string {
	return filepath.Join(dir, scene+errorSuffix)
}

// ImageFilename returns the basename (no directory) the image server
// should write to for scene, matching ImagePath's suffix convention.
func ImageFilename(scene string) string {
	return scene + imageSuffix
}

// Complete reports whether both the metadata and image files exist for
// scene in dir. This is the definition of "scene complete" used by the
// Reconciler when classifying files it has not tracked before.
func Complete(dir, scene string) bool {
	return fileExists(MetadataPath(dir, scene)) && fileExists(ImagePath(dir, scene))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
