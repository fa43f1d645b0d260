package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"scribeserver/internal/artifact"
	"scribeserver/internal/models"
)

const (
	intakeDirName = "scribe-uploads"

	DefaultTempFileTTL             = time.Hour
	DefaultTempFileCleanupInterval = 10 * time.Minute
)

// Intake stores uploaded audio in a private temp directory and prepares the
// artifact directory it will be transcribed into.
type Intake struct {
	dir       string
	artifacts *artifact.Store
	logger    zerolog.Logger
}

func NewIntake(tempRoot string, artifacts *artifact.Store, logger zerolog.Logger) (*Intake, error) {
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}
	dir := filepath.Join(tempRoot, intakeDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create intake dir: %w", err)
	}
	return &Intake{
		dir:       dir,
		artifacts: artifacts,
		logger:    logger.With().Str("component", "intake").Logger(),
	}, nil
}

// Dir is where transient uploads live.
func (in *Intake) Dir() string {
	return in.dir
}

// Accept copies the uploaded file to a fresh temp path and ensures the
// destination directory exists. On error nothing is left in the temp dir.
func (in *Intake) Accept(file *multipart.FileHeader, email, language string) (*models.Upload, error) {
	if file == nil {
		return nil, newError(KindNoFile, errors.New("missing file part"))
	}
	base, err := artifact.BaseName(file.Filename)
	if err != nil {
		return nil, newError(KindInvalidInput, fmt.Errorf("file name %q: %w", file.Filename, err))
	}
	if !artifact.ValidSegment(artifact.FileName(base, language)) {
		return nil, newError(KindInvalidInput, fmt.Errorf("language %q cannot be part of a file name", language))
	}
	destDir, err := in.artifacts.EnsureDir(email, base)
	if err != nil {
		if errors.Is(err, artifact.ErrOutsideRoot) || errors.Is(err, artifact.ErrInvalidName) {
			return nil, newError(KindInvalidInput, err)
		}
		return nil, newError(KindArtifactWrite, err)
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if strings.ContainsAny(ext, "/\\") {
		ext = ""
	}
	tempPath := filepath.Join(in.dir, uuid.NewString()+ext)
	if err := saveFile(file, tempPath); err != nil {
		_ = os.Remove(tempPath)
		return nil, newError(KindAudioProcessing, err)
	}

	return &models.Upload{
		TempPath:         tempPath,
		DestinationDir:   destDir,
		OriginalFileName: file.Filename,
		BaseName:         base,
		Language:         language,
		Email:            email,
	}, nil
}

// Cleanup removes the transient upload. Safe on nil.
func (in *Intake) Cleanup(u *models.Upload) {
	if u == nil || u.TempPath == "" {
		return
	}
	if err := os.Remove(u.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		in.logger.Warn().Err(err).Str("path", u.TempPath).Msg("remove temp upload failed")
	}
}

func saveFile(file *multipart.FileHeader, dst string) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create temp upload: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("save upload: %w", err)
	}
	return out.Close()
}

// StartCleaner removes leftovers older than ttl every interval until ctx ends.
func (in *Intake) StartCleaner(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTempFileTTL
	}
	if interval <= 0 {
		interval = DefaultTempFileCleanupInterval
	}
	go in.cleanupLoop(ctx, ttl, interval)
}

func (in *Intake) cleanupLoop(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := in.cleanupExpired(time.Now().Add(-ttl)); err != nil {
				in.logger.Error().Err(err).Msg("cleanup temp files error")
			} else if n > 0 {
				in.logger.Info().Int("removed", n).Msg("stale temp files removed")
			}
		}
	}
}

// cleanupExpired removes entries of the intake dir last modified before cutoff.
func (in *Intake) cleanupExpired(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(in.dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			in.logger.Warn().Err(err).Str("path", path).Msg("remove temp file failed")
			continue
		}
		removed++
	}
	return removed, nil
}
