package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// namesPath is the display-name overlay. It is not part of the Merkle set:
// renaming a lattice never changes db_root.
func (s *Store) namesPath() string {
	return filepath.Join(s.root, "metadata", "names.json")
}

// DisplayNames reads the display-name overlay.
func (s *Store) DisplayNames() (map[string]string, error) {
	data, err := os.ReadFile(s.namesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read names overlay: %w", err)
	}
	names := map[string]string{}
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parse names overlay: %w", err)
	}
	return names, nil
}

// SetDisplayName sets or clears a lattice's display name. The lattice must
// exist; the write happens under the writer lock.
func (s *Store) SetDisplayName(ctx context.Context, latticeID, name string) error {
	if _, err := s.LatticeDir(ctx, latticeID); err != nil {
		return err
	}

	lock, err := acquireWriterLock(ctx, s.root)
	if err != nil {
		return err
	}
	defer lock.release()
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	names, err := s.DisplayNames()
	if err != nil {
		return err
	}
	if name == "" {
		delete(names, latticeID)
	} else {
		names[latticeID] = name
	}
	data, err := json.Marshal(names)
	if err != nil {
		return err
	}
	if err := atomicWriteFile(s.namesPath(), data); err != nil {
		return fmt.Errorf("write names overlay: %w", err)
	}
	s.invalidateManifestCache()
	return nil
}
