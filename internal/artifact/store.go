package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"scribeserver/internal/models"
)

const (
	TextSuffix        = ".txt"
	TranslationMarker = "\n\nTranslated Text:\n"
)

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrOutsideRoot = errors.New("path escapes uploads root")
	ErrInvalidName = errors.New("invalid file name")
	ErrRead        = errors.New("read artifacts")
)

// Store lays artifacts out as <root>/<email>/<base>/<base>_<language>.txt.
type Store struct {
	root  string
	locks *keyedLocks
}

// NewStore creates the uploads root if needed and pins it to its canonical absolute path.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads root: %w", err)
	}
	return &Store{root: canonical, locks: newKeyedLocks()}, nil
}

// Root returns the canonical uploads root.
func (s *Store) Root() string {
	return s.root
}

// BaseName is the uploaded file's name without directories or extension.
func BaseName(fileName string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		// dotfiles such as ".wav" keep their full name
		base = name
	}
	if base == "" || base == "." || base == ".." || base == "/" {
		return "", ErrInvalidName
	}
	return base, nil
}

// FileName is the artifact file name for a base name and language.
func FileName(baseName, language string) string {
	return baseName + "_" + language + TextSuffix
}

// EnsureDir creates the artifact directory for (email, baseName); existing directories are fine.
func (s *Store) EnsureDir(email, baseName string) (string, error) {
	dir, err := s.resolve(email, baseName)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	return dir, nil
}

// Acquire returns the exclusive writer for one artifact path. Callers must Release it.
func (s *Store) Acquire(ctx context.Context, email, baseName, language string) (*Writer, error) {
	if _, err := s.EnsureDir(email, baseName); err != nil {
		return nil, err
	}
	path, err := s.resolve(email, baseName, FileName(baseName, language))
	if err != nil {
		return nil, err
	}
	unlock, err := s.locks.lock(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Writer{path: path, unlock: unlock}, nil
}

// List enumerates every text artifact under the user's directory.
func (s *Store) List(email string) ([]models.ArtifactEntry, error) {
	userDir, err := s.resolve(email)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(userDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	if !info.IsDir() {
		return nil, ErrNotFound
	}

	subdirs, err := os.ReadDir(userDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	entries := make([]models.ArtifactEntry, 0)
	for _, sub := range subdirs {
		if !sub.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(userDir, sub.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRead, err)
		}
		for _, f := range files {
			if f.Type().IsRegular() && strings.HasSuffix(f.Name(), TextSuffix) {
				entries = append(entries, models.ArtifactEntry{FileName: sub.Name() + "/" + f.Name()})
			}
		}
	}
	// os.ReadDir already sorts; keep the guarantee explicit
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].FileName < entries[j].FileName })
	return entries, nil
}

// Open resolves <email>/<dir>/<file> inside the root and opens it for reading.
func (s *Store) Open(email, dir, file string) (*os.File, os.FileInfo, error) {
	path, err := s.resolve(email, dir, file)
	if err != nil {
		return nil, nil, err
	}
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	if !s.contains(target) {
		return nil, nil, ErrOutsideRoot
	}
	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, ErrNotFound
	}
	return f, info, nil
}

// resolve joins segments beneath the root and rejects anything that lands outside it.
func (s *Store) resolve(segments ...string) (string, error) {
	for _, seg := range segments {
		if seg == "." || seg == ".." {
			return "", ErrOutsideRoot
		}
		if !ValidSegment(seg) {
			return "", ErrInvalidName
		}
	}
	joined := filepath.Join(append([]string{s.root}, segments...)...)
	if !s.contains(joined) || joined == s.root {
		return "", ErrOutsideRoot
	}
	return joined, nil
}

// ValidSegment reports whether s can be used as exactly one path element.
func ValidSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/\\\x00")
}

func (s *Store) contains(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Writer is the single writer of one artifact file while it is held.
type Writer struct {
	path   string
	unlock func()
}

// Path is the artifact file path.
func (w *Writer) Path() string {
	return w.path
}

// WriteTranscript replaces the file's content with the transcript.
func (w *Writer) WriteTranscript(text string) error {
	if err := os.WriteFile(w.path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

// AppendTranslation appends the translated-text block.
func (w *Writer) AppendTranslation(text string) error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	if _, err := f.WriteString(TranslationMarker + text); err != nil {
		f.Close()
		return fmt.Errorf("append translation: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	return nil
}

// Release gives up exclusive access. Safe to call more than once.
func (w *Writer) Release() {
	if w.unlock != nil {
		w.unlock()
		w.unlock = nil
	}
}
