// Package checkpoint implements the per-source progress record of the
// specification's checkpoint design: one file per source raw-log path,
// atomically published, mutated only by the compaction engine, advancing
// last_processed_offset monotonically.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/sqrtqiezi/diting/internal/atomicfile"
	"github.com/sqrtqiezi/diting/internal/chatlakeerr"
)

// Status enumerates a checkpoint's lifecycle state.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Checkpoint is the restart-safe progress record for one source raw-log
// file.
type Checkpoint struct {
	SourcePath          string `json:"source_path"`
	LastProcessedOffset int64  `json:"last_processed_offset"`
	LastProcessedKey    string `json:"last_processed_key"`
	RecordCount         int64  `json:"record_count"`
	Status              Status `json:"status"`
	Error               string `json:"error,omitempty"`
	SourceContentHash   string `json:"source_content_hash,omitempty"`
}

// Store persists checkpoints as one JSON file per source path under dir.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, chatlakeerr.NewIoError(chatlakeerr.IoOther, "creating checkpoint directory", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) pathFor(sourcePath string) string {
	var name = hex.EncodeToString([]byte(filepath.Base(sourcePath)))
	return filepath.Join(s.dir, name+".json")
}

// Load returns the checkpoint for sourcePath, or a fresh zero-value
// checkpoint (Status unset) if none exists yet.
func (s *Store) Load(sourcePath string) (Checkpoint, error) {
	data, err := os.ReadFile(s.pathFor(sourcePath))
	if os.IsNotExist(err) {
		return Checkpoint{SourcePath: sourcePath}, nil
	}
	if err != nil {
		return Checkpoint{}, chatlakeerr.NewIoError(chatlakeerr.IoOther, "reading checkpoint", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, chatlakeerr.NewParseError("decoding checkpoint", err)
	}
	return cp, nil
}

// Save atomically publishes cp, enforcing that last_processed_offset never
// regresses relative to the checkpoint already on disk.
func (s *Store) Save(cp Checkpoint) error {
	existing, err := s.Load(cp.SourcePath)
	if err != nil {
		return err
	}
	if cp.LastProcessedOffset < existing.LastProcessedOffset {
		return chatlakeerr.NewParseError("checkpoint offset would regress", nil)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return chatlakeerr.NewParseError("encoding checkpoint", err)
	}
	return atomicfile.Publish(s.pathFor(cp.SourcePath), data, 0o644)
}

// HashFile returns a stable content hash for sourcePath, used to decide
// whether a "completed" checkpoint is still valid for the file's current
// contents (step 2 of the compaction operation).
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", chatlakeerr.NewIoError(chatlakeerr.IoOther, "hashing source file", err)
	}
	defer f.Close()

	var h = sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", chatlakeerr.NewIoError(chatlakeerr.IoOther, "hashing source file", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
