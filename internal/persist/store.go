// Package persist stores space snapshots on disk as JSON documents, written
// atomically via temp file and rename.
package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"pkt.systems/pslog"
	"pkt.systems/vela/schema"
)

// Codec optionally transforms snapshot bytes before write and after read,
// e.g. for envelope encryption.
type Codec interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Store persists space snapshots to a directory.
type Store struct {
	dir   string
	codec Codec
	log   pslog.Logger
}

// NewStore constructs a snapshot store at the given directory.
func NewStore(dir string, codec Codec, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("snapshot_dir", dir)
	}
	return &Store{dir: dir, codec: codec, log: logger}, nil
}

// Save writes the snapshot under the given name.
func (s *Store) Save(name string, snapshot schema.SpaceSnapshot) error {
	path := s.pathFor(name)
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		s.warn(name, err)
		return err
	}
	if s.codec != nil {
		data, err = s.codec.Seal(data)
		if err != nil {
			s.warn(name, err)
			return err
		}
	}
	tmp, err := os.CreateTemp(s.dir, "space-*.tmp")
	if err != nil {
		s.warn(name, err)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		s.warn(name, err)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		s.warn(name, err)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		s.warn(name, err)
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		s.warn(name, err)
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		s.warn(name, err)
		return err
	}
	if s.log != nil {
		s.log.Debug("snapshot save ok", "name", name, "tabs", len(snapshot.Tabs))
	}
	return nil
}

// Load reads a snapshot by name. The second return is false when absent.
func (s *Store) Load(name string) (schema.SpaceSnapshot, bool, error) {
	path := s.pathFor(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schema.SpaceSnapshot{}, false, nil
		}
		s.warn(name, err)
		return schema.SpaceSnapshot{}, false, err
	}
	if s.codec != nil {
		data, err = s.codec.Open(data)
		if err != nil {
			s.warn(name, err)
			return schema.SpaceSnapshot{}, false, err
		}
	}
	var snapshot schema.SpaceSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.warn(name, err)
		return schema.SpaceSnapshot{}, false, err
	}
	return snapshot, true, nil
}

// List returns the names of stored snapshots.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	return names, nil
}

func (s *Store) warn(name string, err error) {
	if s.log != nil {
		s.log.Warn("snapshot store failed", "name", name, "err", err)
	}
}

func (s *Store) pathFor(name string) string {
	clean := sanitize(name)
	if clean == "" {
		clean = "unnamed"
	}
	return filepath.Join(s.dir, clean+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
