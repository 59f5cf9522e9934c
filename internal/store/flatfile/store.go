// Package flatfile stores conversations as a directory tree of small JSON
// metadata files and raw content files:
//
//	<root>/<studentId>/convlist.meta
//	<root>/<studentId>/<conv>/conv.meta
//	<root>/<studentId>/<conv>/<msg>.meta
//	<root>/<studentId>/<conv>/<msg>.content
//
// Every file is written to a temporary name, synced and renamed into place.
package flatfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"helpconv/internal/conversation"
)

const (
	listMetaFile = "convlist.meta"
	convMetaFile = "conv.meta"
	metaSuffix   = ".meta"
	bodySuffix   = ".content"
	tmpSuffix    = ".tmp"
)

var (
	// ErrInvalidPathElement is returned for student IDs that cannot be used
	// as a directory name.
	ErrInvalidPathElement = errors.New("invalid path element")
	// ErrExists is returned when creating a unit that is already on disk.
	ErrExists = errors.New("already exists")
	// ErrMissing is returned when rewriting a unit that is not on disk.
	ErrMissing = errors.New("does not exist")
)

// Store implements conversation.Backend on a filesystem.
type Store struct {
	fs   afero.Fs
	root string
	log  zerolog.Logger
}

var _ conversation.Backend = (*Store)(nil)

// Open uses the operating system filesystem rooted at dir, creating it if
// needed.
func Open(dir string, log zerolog.Logger) (*Store, error) {
	return New(afero.NewOsFs(), dir, log)
}

// New uses an arbitrary afero filesystem.
func New(fs afero.Fs, root string, log zerolog.Logger) (*Store, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", root, err)
	}
	return &Store{
		fs:   fs,
		root: root,
		log:  log.With().Str("component", "flatfile").Str("root", root).Logger(),
	}, nil
}

// Root returns the data directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) Close() error {
	return nil
}

func checkElement(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, os.PathSeparator) {
		return fmt.Errorf("%w: %q", ErrInvalidPathElement, id)
	}
	return nil
}

func (s *Store) studentDir(id string) (string, error) {
	if err := checkElement(id); err != nil {
		return "", err
	}
	return filepath.Join(s.root, id), nil
}

func (s *Store) convDir(id string, conv int) (string, error) {
	dir, err := s.studentDir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, strconv.Itoa(conv)), nil
}

func messagePaths(convDir string, msg int) (meta, body string) {
	base := filepath.Join(convDir, strconv.Itoa(msg))
	return base + metaSuffix, base + bodySuffix
}

func (s *Store) exists(path string) (bool, error) {
	_, err := s.fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *Store) mustExist(path string) error {
	ok, err := s.exists(path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrMissing)
	}
	return nil
}

func (s *Store) mustNotExist(path string) error {
	ok, err := s.exists(path)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}
	return nil
}

// writeFile replaces path atomically.
func (s *Store) writeFile(path string, data []byte) (err error) {
	tmp := path + tmpSuffix
	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			_ = s.fs.Remove(tmp)
		}
	}()
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err = s.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	return nil
}

func (s *Store) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return s.writeFile(path, data)
}

func (s *Store) readJSON(path string, v interface{}) error {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
