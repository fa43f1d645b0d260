package models

// ArtifactEntry is one catalog line, "<subdir>/<file>".
type ArtifactEntry struct {
	FileName string `json:"fileName"`
}
