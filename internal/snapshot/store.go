// Package snapshot persists per-workspace post-install filesystem snapshots
// so later sessions can restore dependencies instead of reinstalling.
package snapshot

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"pkt.systems/pslog"
	"pkt.systems/sandview/schema"
)

// FileEntry is one captured file in a workspace snapshot.
type FileEntry struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
	Mode    uint32 `json:"mode,omitempty"`
}

// Record is the durable per-workspace snapshot: the captured filesystem
// plus the dependency hash and manager it was produced with.
type Record struct {
	WorkspaceID    schema.WorkspaceID    `json:"workspace_id"`
	Files          []FileEntry           `json:"files"`
	DependencyHash string                `json:"dependency_hash"`
	Manager        schema.PackageManager `json:"manager"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Store persists workspace snapshots to disk, one JSON record per workspace.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a snapshot store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a snapshot store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("snapshot_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Load reads the snapshot record for a workspace. The second return is
// false when no snapshot exists.
func (s *Store) Load(workspaceID schema.WorkspaceID) (Record, bool, error) {
	path := s.pathForWorkspace(workspaceID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("snapshot load miss", "workspace", workspaceID)
			}
			return Record{}, false, nil
		}
		if s.log != nil {
			s.log.Warn("snapshot load failed", "workspace", workspaceID, "err", err)
		}
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		if s.log != nil {
			s.log.Warn("snapshot load failed", "workspace", workspaceID, "err", err)
		}
		return Record{}, false, err
	}
	if s.log != nil {
		s.log.Debug("snapshot load ok", "workspace", workspaceID, "files", len(rec.Files))
	}
	return rec, true, nil
}

// Save writes the snapshot record for a workspace atomically.
func (s *Store) Save(rec Record) error {
	path := s.pathForWorkspace(rec.WorkspaceID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return s.saveFailed(rec.WorkspaceID, err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return s.saveFailed(rec.WorkspaceID, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "snapshot-*.json")
	if err != nil {
		return s.saveFailed(rec.WorkspaceID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return s.saveFailed(rec.WorkspaceID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return s.saveFailed(rec.WorkspaceID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return s.saveFailed(rec.WorkspaceID, err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return s.saveFailed(rec.WorkspaceID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return s.saveFailed(rec.WorkspaceID, err)
	}
	if s.log != nil {
		s.log.Trace("snapshot save ok", "workspace", rec.WorkspaceID, "files", len(rec.Files))
	}
	return nil
}

// Delete removes the snapshot record for a workspace, if any.
func (s *Store) Delete(workspaceID schema.WorkspaceID) error {
	err := os.Remove(s.pathForWorkspace(workspaceID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) saveFailed(workspaceID schema.WorkspaceID, err error) error {
	if s.log != nil {
		s.log.Warn("snapshot save failed", "workspace", workspaceID, "err", err)
	}
	return err
}

func (s *Store) pathForWorkspace(workspaceID schema.WorkspaceID) string {
	name := sanitize(string(workspaceID))
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, name+".json")
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
