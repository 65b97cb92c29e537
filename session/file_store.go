package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one encoded session per profile under a directory, for
// command-line tools that restart between calls. Files are written 0600.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir. The directory is created
// on first Save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// DefaultSessionDir is $XDG_CONFIG_HOME/lbctl, falling back to ~/.config/lbctl.
func DefaultSessionDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "lbctl")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "lbctl")
}

func (s *FileStore) path(profile string) (string, error) {
	if profile == "" || profile == "." || profile == ".." || strings.ContainsAny(profile, `/\`) {
		return "", fmt.Errorf("invalid profile name %q", profile)
	}
	return filepath.Join(s.dir, profile+".session"), nil
}

// Load reads the session of profile, ErrNotFound when none was saved.
func (s *FileStore) Load(_ context.Context, profile string) (*Info, error) {
	path, err := s.path(profile)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session file %s: %w", path, err)
	}
	info, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("session file %s: %w", path, err)
	}
	return info, nil
}

// Save replaces the file atomically through a rename.
func (s *FileStore) Save(_ context.Context, profile string, info *Info) error {
	path, err := s.path(profile)
	if err != nil {
		return err
	}
	data, err := Encode(info)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create session directory %s: %w", s.dir, err)
	}
	tmp, err := os.CreateTemp(s.dir, profile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace session file %s: %w", path, err)
	}
	return nil
}

// Clear is idempotent.
func (s *FileStore) Clear(_ context.Context, profile string) error {
	path, err := s.path(profile)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file %s: %w", path, err)
	}
	return nil
}
