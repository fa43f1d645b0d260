package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"scribeserver/internal/artifact"
	"scribeserver/internal/metrics"
	"scribeserver/internal/models"
	"scribeserver/internal/service/media"
	"scribeserver/internal/service/transcribe"
	"scribeserver/internal/service/translate"
)

const (
	StageNormalize  = "normalize"
	StageTranscribe = "transcribe"
	StageTranslate  = "translate"
	StagePersist    = "persist"
)

// Result is what one successful run produced.
type Result struct {
	Transcript   string
	Translation  string
	ArtifactPath string
}

// Pipeline runs normalize, transcribe, write, translate, append in order.
type Pipeline struct {
	normalizer  media.Normalizer
	transcriber transcribe.Transcriber
	translator  translate.Translator
	artifacts   *artifact.Store
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

func New(
	normalizer media.Normalizer,
	transcriber transcribe.Transcriber,
	translator translate.Translator,
	artifacts *artifact.Store,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		normalizer:  normalizer,
		transcriber: transcriber,
		translator:  translator,
		artifacts:   artifacts,
		metrics:     m,
		logger:      logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run processes one accepted upload. Any stage failure stops the run and is
// returned as *Error. The artifact path stays locked from the transcript write
// until the translation is appended.
func (p *Pipeline) Run(ctx context.Context, u *models.Upload) (*Result, error) {
	if u == nil {
		return nil, newError(KindNoFile, errors.New("no upload"))
	}
	logger := p.logger.With().
		Str("email", u.Email).
		Str("base", u.BaseName).
		Str("language", u.Language).
		Logger()

	workDir, err := os.MkdirTemp(filepath.Dir(u.TempPath), "work-")
	if err != nil {
		return nil, newError(KindAudioProcessing, fmt.Errorf("create work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	var wavPath string
	err = p.stage(StageNormalize, func() (err error) {
		wavPath, err = p.normalizer.Normalize(ctx, u.TempPath, workDir)
		return err
	})
	if err != nil {
		return nil, newError(KindAudioProcessing, err)
	}

	var transcript string
	err = p.stage(StageTranscribe, func() (err error) {
		transcript, err = p.transcriber.Transcribe(ctx, wavPath)
		return err
	})
	if err != nil {
		return nil, newError(KindTranscriptionService, err)
	}

	w, err := p.artifacts.Acquire(ctx, u.Email, u.BaseName, u.Language)
	if err != nil {
		return nil, newError(KindArtifactWrite, err)
	}
	defer w.Release()

	if err := w.WriteTranscript(transcript); err != nil {
		return nil, newError(KindArtifactWrite, err)
	}
	logger.Debug().Str("path", w.Path()).Msg("transcript written")

	var translation string
	err = p.stage(StageTranslate, func() (err error) {
		translation, err = p.translator.Translate(ctx, transcript, u.Language)
		return err
	})
	if err != nil {
		return nil, newError(KindTranslation, err)
	}

	err = p.stage(StagePersist, func() error {
		return w.AppendTranslation(translation)
	})
	if err != nil {
		return nil, newError(KindArtifactWrite, err)
	}

	logger.Info().Str("path", w.Path()).Msg("upload processed")
	return &Result{
		Transcript:   transcript,
		Translation:  translation,
		ArtifactPath: w.Path(),
	}, nil
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.ObserveStage(name, time.Since(start))
	return err
}
