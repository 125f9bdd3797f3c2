// Package snapshotstore persists one JSON snapshot file per monitored root.
// Writes are atomic (temp file + rename); a failed load degrades to "no
// previous snapshot" rather than propagating, per spec.md §4.A.
package snapshotstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/papai0709/syncengine/pkg/buildinfo"
)

// Snapshot is the immutable record of a root's tracked fields at a point
// in time, plus the hash used to detect whether anything changed.
type Snapshot struct {
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	State         string       `json:"state"`
	Priority      string       `json:"priority,omitempty"`
	AreaPath      string       `json:"area_path,omitempty"`
	IterationPath string       `json:"iteration_path,omitempty"`
	ContentHash   string       `json:"content_hash"`
	LastModified  time.Time    `json:"last_modified"`
	CapturedAt    time.Time    `json:"captured_at"`
	EnhancedMeta  EnhancedMeta `json:"enhanced_metadata"`
}

// EnhancedMeta is sidecar bookkeeping stored alongside every snapshot.
type EnhancedMeta struct {
	LastUpdated    time.Time `json:"last_updated"`
	MonitorVersion string    `json:"monitor_version"`
}

// Fields is the subset of Snapshot that participates in the content hash,
// kept as its own type so callers (the scheduler, the scorer) can build one
// without importing the whole Snapshot shape.
type Fields struct {
	Title         string
	Description   string
	State         string
	Priority      string
	AreaPath      string
	IterationPath string
}

// ContentHash computes the canonical hash of a root's fields: SHA-256 over
// "title|description|state|priority|area|iteration", pipe-joined in that
// fixed order so any field difference changes the hash (spec.md invariant
// #2).
func ContentHash(f Fields) string {
	canonical := strings.Join([]string{
		f.Title, f.Description, f.State, f.Priority, f.AreaPath, f.IterationPath,
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// New builds a Snapshot from fields captured right now, stamping the
// content hash and enhanced metadata.
func New(f Fields, lastModified time.Time) Snapshot {
	now := time.Now()
	return Snapshot{
		Title:         f.Title,
		Description:   f.Description,
		State:         f.State,
		Priority:      f.Priority,
		AreaPath:      f.AreaPath,
		IterationPath: f.IterationPath,
		ContentHash:   ContentHash(f),
		LastModified:  lastModified,
		CapturedAt:    now,
		EnhancedMeta: EnhancedMeta{
			LastUpdated:    now,
			MonitorVersion: buildinfo.MonitorVersion(),
		},
	}
}

// Store is a directory of one JSON file per root ID.
type Store struct {
	dir string
	log *slog.Logger
}

// NewStore constructs a Store rooted at dir, creating it if necessary.
func NewStore(dir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) path(rootType, rootID string) string {
	name := fmt.Sprintf("%s_%s.json", strings.ToLower(rootType), sanitize(rootID))
	return filepath.Join(s.dir, name)
}

// sanitize replaces path separators so a tracker-assigned ID can never
// escape the snapshot directory.
func sanitize(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(id)
}

// Load reads the snapshot for rootType/rootID. A missing file or a parse
// failure both return (nil, nil): this degrades to "no previous snapshot"
// rather than surfacing an error, matching the significance scorer's
// nil-prev contract. Any real I/O problem other than not-found is logged.
func (s *Store) Load(rootType, rootID string) (*Snapshot, error) {
	data, err := os.ReadFile(s.path(rootType, rootID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		s.log.Warn("snapshot load failed, treating as no previous snapshot", "root_id", rootID, "error", err)
		return nil, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn("snapshot parse failed, treating as no previous snapshot", "root_id", rootID, "error", err)
		return nil, nil
	}
	return &snap, nil
}

// Save writes snap for rootType/rootID atomically (temp file in the same
// directory, then rename).
func (s *Store) Save(rootType, rootID string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	target := s.path(rootType, rootID)
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot file into place: %w", err)
	}
	return nil
}

// Delete removes the snapshot file for rootType/rootID. Deleting a file
// that doesn't exist is not an error (retirement may race a failed save).
func (s *Store) Delete(rootType, rootID string) error {
	err := os.Remove(s.path(rootType, rootID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot file: %w", err)
	}
	return nil
}

// List returns the rootType_rootID stems of every snapshot file present,
// for startup rehydration.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshot directory: %w", err)
	}

	var stems []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		stems = append(stems, strings.TrimSuffix(e.Name(), ".json"))
	}
	return stems, nil
}
