package embedcache

import (
	"fmt"
	"os"
	"path/filepath"
)

// FSStore keeps embeddings as files under a root directory.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed and returns a store over it.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating embedding dir %s: %w", root, err)
	}
	return &FSStore{root: root}, nil
}

// Root returns the backing directory.
func (s *FSStore) Root() string {
	return s.root
}

// Exists reports whether the named file is present.
func (s *FSStore) Exists(name string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.root, name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Get reads the named file in full.
func (s *FSStore) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading embedding %s: %w", name, err)
	}
	return data, nil
}

// Put writes to a temp file in the same directory and renames it into
// place, so a crash mid-write never leaves a readable partial file.
func (s *FSStore) Put(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.root, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing embedding %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing embedding %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing embedding %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.root, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publishing embedding %s: %w", name, err)
	}
	return nil
}
