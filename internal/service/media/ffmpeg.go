package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const DefaultSampleRate = 16000

// Normalizer turns an arbitrary audio file into a mono PCM waveform.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath, outDir string) (string, error)
}

// FFmpeg shells out to the ffmpeg binary.
type FFmpeg struct {
	Path       string
	SampleRate int
	logger     zerolog.Logger
}

// NewFFmpeg builds a normalizer. Empty path means "ffmpeg" on PATH.
func NewFFmpeg(path string, sampleRate int, logger zerolog.Logger) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &FFmpeg{
		Path:       path,
		SampleRate: sampleRate,
		logger:     logger.With().Str("component", "ffmpeg").Logger(),
	}
}

// Args are the ffmpeg arguments used to normalize in into out.
func (f *FFmpeg) Args(in, out string) []string {
	// ffmpeg -y -i input -ac 1 -ar 16000 -f wav output
	return []string{
		"-y", "-i", in,
		"-ac", "1", "-ar", strconv.Itoa(f.SampleRate),
		"-f", "wav",
		out,
	}
}

// Normalize writes <outDir>/<input base>.wav and returns its path.
func (f *FFmpeg) Normalize(ctx context.Context, inputPath, outDir string) (string, error) {
	if outDir == "" {
		outDir = filepath.Dir(inputPath)
	}
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	out := filepath.Join(outDir, base+".wav")
	if out == inputPath {
		out = filepath.Join(outDir, base+"_16k.wav")
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.Path, f.Args(inputPath, out)...)
	cmd.Stderr = &stderr
	start := time.Now()
	if err := cmd.Run(); err != nil {
		_ = os.Remove(out)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("ffmpeg: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("ffmpeg exited with %d: %s", exitErr.ExitCode(), tail(stderr.String(), 512))
		}
		return "", fmt.Errorf("ffmpeg: %w", err)
	}
	f.logger.Debug().
		Str("input", inputPath).
		Str("output", out).
		Dur("took", time.Since(start)).
		Msg("audio normalized")
	return out, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
