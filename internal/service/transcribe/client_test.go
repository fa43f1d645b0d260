package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWav(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "speech.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVE"), 0o644))
	return path
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transcribe", r.URL.Path)
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		assert.Equal(t, "speech.wav", header.Filename)
		assert.Equal(t, "RIFF....WAVE", string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transcription": "hello"}`))
	}))
	defer srv.Close()

	text, err := NewClient(srv.URL+"/", 0, zerolog.Nop()).Transcribe(context.Background(), writeWav(t))
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestTranscribeEmptyTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transcription": ""}`))
	}))
	defer srv.Close()

	text, err := NewClient(srv.URL, 0, zerolog.Nop()).Transcribe(context.Background(), writeWav(t))
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestTranscribeFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"server error", http.StatusInternalServerError, "model crashed", func(t *testing.T, err error) {
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
			assert.Equal(t, "model crashed", se.Body)
		}},
		{"not json", http.StatusOK, "<html>", func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrMalformedResponse)
		}},
		{"missing field", http.StatusOK, `{"text": "hi"}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrMalformedResponse)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, 0, zerolog.Nop()).Transcribe(context.Background(), writeWav(t))
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestTranscribeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second, zerolog.Nop()).Transcribe(context.Background(), writeWav(t))
	assert.Error(t, err)
}

func TestTranscribeMissingFile(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", 0, zerolog.Nop()).Transcribe(context.Background(), filepath.Join(t.TempDir(), "gone.wav"))
	assert.Error(t, err)
}
