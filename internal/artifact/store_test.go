package artifact

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	return store
}

func writeArtifact(t *testing.T, store *Store, email, base, lang, transcript, translation string) string {
	t.Helper()
	w, err := store.Acquire(context.Background(), email, base, lang)
	require.NoError(t, err)
	defer w.Release()
	require.NoError(t, w.WriteTranscript(transcript))
	require.NoError(t, w.AppendTranslation(translation))
	return w.Path()
}

func TestBaseName(t *testing.T) {
	cases := map[string]string{
		"speech.mp3":         "speech",
		"archive.tar.gz":     "archive.tar",
		"noext":              "noext",
		"dir/inner/clip.wav": "clip",
		`C:\Users\a\talk.m4a`: "talk",
		".wav":               ".wav",
	}
	for in, want := range cases {
		got, err := BaseName(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", ".", "..", "a/.."} {
		_, err := BaseName(bad)
		assert.ErrorIs(t, err, ErrInvalidName, bad)
	}
}

func TestArtifactLayout(t *testing.T) {
	store := newTestStore(t)
	path := writeArtifact(t, store, "alice@example.com", "speech", "French", "hello", "bonjour")

	assert.Equal(t, filepath.Join(store.Root(), "alice@example.com", "speech", "speech_French.txt"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n\nTranslated Text:\nbonjour", string(data))
}

func TestReuploadReplacesWholeFile(t *testing.T) {
	store := newTestStore(t)
	writeArtifact(t, store, "alice@example.com", "speech", "French", "first take", "premier")
	path := writeArtifact(t, store, "alice@example.com", "speech", "French", "second", "deuxième")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second\n\nTranslated Text:\ndeuxième", string(data))
}

func TestEmptyLanguageIsKept(t *testing.T) {
	store := newTestStore(t)
	path := writeArtifact(t, store, "alice@example.com", "memo", "", "hi", "hi")
	assert.Equal(t, "memo_.txt", filepath.Base(path))
}

func TestListMissingUser(t *testing.T) {
	store := newTestStore(t)
	_, err := store.List("nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListEntries(t *testing.T) {
	store := newTestStore(t)
	writeArtifact(t, store, "alice@example.com", "b", "German", "x", "y")
	writeArtifact(t, store, "alice@example.com", "a", "French", "x", "y")
	// non-text files and loose files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "alice@example.com", "a", "a.wav"), []byte("RIFF"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "alice@example.com", "loose.txt"), []byte("x"), 0o644))

	entries, err := store.List("alice@example.com")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a/a_French.txt", entries[0].FileName)
	assert.Equal(t, "b/b_German.txt", entries[1].FileName)
}

func TestListEmptyUserDir(t *testing.T) {
	store := newTestStore(t)
	_, err := store.EnsureDir("alice@example.com", "speech")
	require.NoError(t, err)

	entries, err := store.List("alice@example.com")
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestOpen(t *testing.T) {
	store := newTestStore(t)
	writeArtifact(t, store, "alice@example.com", "speech", "French", "hello", "bonjour")

	f, info, err := store.Open("alice@example.com", "speech", "speech_French.txt")
	require.NoError(t, err)
	defer f.Close()
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello\n\nTranslated Text:\nbonjour", string(body))
	assert.Equal(t, int64(len(body)), info.Size())

	_, _, err = store.Open("alice@example.com", "speech", "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	// directories are not downloadable
	_, _, err = store.Open("alice@example.com", "speech", ".")
	assert.Error(t, err)
}

func TestResolveRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	secret := filepath.Join(filepath.Dir(store.Root()), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("top secret"), 0o644))

	_, _, err := store.Open("alice@example.com", "..", "..")
	assert.ErrorIs(t, err, ErrOutsideRoot)
	_, _, err = store.Open("..", "..", "secret.txt")
	assert.ErrorIs(t, err, ErrOutsideRoot)
	_, _, err = store.Open("alice@example.com", "x", "../../../secret.txt")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = store.List("..")
	assert.ErrorIs(t, err, ErrOutsideRoot)
	_, err = store.Acquire(context.Background(), "alice@example.com", "speech", "../../x")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestOpenRejectsSymlinkEscape(t *testing.T) {
	store := newTestStore(t)
	outside := filepath.Join(t.TempDir(), "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("nope"), 0o644))
	dir, err := store.EnsureDir("alice@example.com", "speech")
	require.NoError(t, err)
	if err := os.Symlink(outside, filepath.Join(dir, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, _, err = store.Open("alice@example.com", "speech", "link.txt")
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestAcquireSerializesWriters(t *testing.T) {
	store := newTestStore(t)
	const writers = 8

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := store.Acquire(context.Background(), "alice@example.com", "speech", "French")
			if !assert.NoError(t, err) {
				return
			}
			defer w.Release()
			transcript := string(rune('a' + i))
			assert.NoError(t, w.WriteTranscript(transcript))
			time.Sleep(2 * time.Millisecond)
			assert.NoError(t, w.AppendTranslation(transcript+transcript))
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(filepath.Join(store.Root(), "alice@example.com", "speech", "speech_French.txt"))
	require.NoError(t, err)
	// whichever writer finished last owns the whole file
	require.Len(t, data, len("a"+TranslationMarker+"aa"))
	c := string(data[0])
	assert.Equal(t, c+TranslationMarker+c+c, string(data))
	assert.Zero(t, store.locks.size())
}

func TestAcquireHonoursContext(t *testing.T) {
	store := newTestStore(t)
	held, err := store.Acquire(context.Background(), "alice@example.com", "speech", "French")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = store.Acquire(ctx, "alice@example.com", "speech", "French")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// other paths are independent
	other, err := store.Acquire(context.Background(), "alice@example.com", "speech", "German")
	require.NoError(t, err)
	other.Release()

	held.Release()
	held.Release()
	again, err := store.Acquire(context.Background(), "alice@example.com", "speech", "French")
	require.NoError(t, err)
	again.Release()
	assert.Zero(t, store.locks.size())
}
