package session

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/backlogd/internal/backlog"
	"github.com/fyrsmithlabs/backlogd/internal/fault"
)

// Delta is the outcome of checking a document revision against the most
// recent session. It is pure data for downstream consumption; nothing in
// the parent session is mutated.
type Delta struct {
	// Session is the session to run against: the existing one when the
	// document is unchanged, a freshly initialized delta session when
	// it changed.
	Session *Session

	// Changed reports whether the document hash differed from the most
	// recent session's hash.
	Changed bool

	// Changes classifies, node-by-node, how the parent session's
	// backlog relates to the new session's backlog. Empty when the
	// document was unchanged or the new session has no parent.
	Changes []backlog.NodeDelta
}

// DetectDelta compares a document against the most recent session under
// the root. An unchanged hash returns the existing session; a changed
// hash produces a new session linked to its predecessor, plus the
// node-level diff of the predecessor's backlog.
func (m *Manager) DetectDelta(ctx context.Context, documentPath string) (*Delta, error) {
	doc, err := os.ReadFile(documentPath)
	if err != nil {
		return nil, fault.Session(fault.CodeSessionLoadFailed, "failed to read requirements document", err).
			With("path", documentPath)
	}
	hash := HashDocument(doc)

	infos, err := m.scan()
	if err != nil {
		return nil, err
	}

	if len(infos) > 0 && infos[len(infos)-1].Hash == hash {
		latest := infos[len(infos)-1]
		s, err := m.Load(ctx, m.sessionPath(latest.Name))
		if err != nil {
			return nil, err
		}
		return &Delta{Session: s, Changed: false}, nil
	}

	s, err := m.Initialize(ctx, documentPath)
	if err != nil {
		return nil, err
	}

	delta := &Delta{Session: s, Changed: len(infos) > 0}
	if s.ParentDir != "" {
		parent, err := m.Load(ctx, m.sessionPath(s.ParentDir))
		if err != nil {
			return nil, err
		}
		delta.Changes = backlog.Diff(parent.Backlog, s.Backlog)
		m.logger.Info("document changed since previous session",
			zap.String("parent", s.ParentDir),
			zap.String("session", s.Name()),
			zap.Int("node_changes", len(delta.Changes)),
		)
	}
	return delta, nil
}

func (m *Manager) sessionPath(name string) string {
	return filepath.Join(m.root, name)
}
