package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Transcriber converts a waveform into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

// StatusError is returned when the transcription service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transcription service http %d: %s", e.StatusCode, e.Body)
}

var ErrMalformedResponse = errors.New("malformed transcription response")

type transcribeResp struct {
	Transcription *string `json:"transcription"`
}

// Client posts waveforms to <baseURL>/transcribe as multipart field "file".
type Client struct {
	endpoint string
	http     *http.Client
	logger   zerolog.Logger
}

// NewClient builds a client. A zero timeout leaves the request bounded only by its context.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/transcribe",
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "transcribe").Logger(),
	}
}

func (c *Client) Transcribe(ctx context.Context, wavPath string) (string, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return "", fmt.Errorf("open waveform: %w", err)
	}
	defer f.Close()

	// stream the file instead of buffering it
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fw, err := mw.CreateFormFile("file", filepath.Base(wavPath))
		if err == nil {
			_, err = io.Copy(fw, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("post waveform: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var tr transcribeResp
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if tr.Transcription == nil {
		return "", fmt.Errorf("%w: missing transcription field", ErrMalformedResponse)
	}
	c.logger.Debug().
		Str("file", filepath.Base(wavPath)).
		Int("chars", len(*tr.Transcription)).
		Dur("took", time.Since(start)).
		Msg("transcription received")
	return *tr.Transcription, nil
}
