package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/backlogd/internal/backlog"
)

// Session directory contents.
const (
	snapshotFile = "snapshot.md"
	backlogFile  = "backlog.yaml"
	parentFile   = "parent-session"

	dirPerm  = 0o755
	filePerm = 0o644
)

// Session is a loaded session: the backlog plus the write-once snapshot
// and parent linkage.
type Session struct {
	// Dir is the absolute session directory path.
	Dir string

	// Sequence is the monotonically increasing session number.
	Sequence int

	// Hash is the 12-character document content hash.
	Hash string

	// Backlog is the evolving work plan. Mutated in place during
	// execution and persisted through Manager.SaveBacklog.
	Backlog *backlog.Backlog

	// Snapshot is the verbatim source document at session creation.
	Snapshot []byte

	// ParentDir names the predecessor session's directory when this is
	// a delta session; empty otherwise.
	ParentDir string

	// CreatedAt is the directory creation time from filesystem metadata.
	CreatedAt time.Time
}

// Name returns the {sequence}_{hash} directory name.
func (s *Session) Name() string {
	return filepath.Base(s.Dir)
}

// BacklogPath returns the path of the canonical backlog file.
func (s *Session) BacklogPath() string {
	return filepath.Join(s.Dir, backlogFile)
}

// SnapshotPath returns the path of the immutable document snapshot.
func (s *Session) SnapshotPath() string {
	return filepath.Join(s.Dir, snapshotFile)
}

// ArtifactDir resolves (and creates if needed) the artifact subdirectory
// for a backlog node. Node IDs are flattened by dropping the dots, so
// P1.M3.T2.S2 maps to {session}/P1M3T2S2. Contents are opaque to the
// core; collaborators write whatever they produce there.
func (s *Session) ArtifactDir(nodeID string) (string, error) {
	dir := filepath.Join(s.Dir, strings.ReplaceAll(nodeID, ".", ""))
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}
	return dir, nil
}
