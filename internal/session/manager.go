package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/backlogd/internal/backlog"
	"github.com/fyrsmithlabs/backlogd/internal/fault"
)

const instrumentationName = "github.com/fyrsmithlabs/backlogd/internal/session"

// hashLength is the number of hex characters kept from the document hash.
const hashLength = 12

var sessionDirPattern = regexp.MustCompile(`^(\d{3,})_([0-9a-f]{12})$`)

// Info summarizes a session directory found under the root.
type Info struct {
	Name      string
	Sequence  int
	Hash      string
	ParentDir string
	CreatedAt time.Time
}

// Manager owns session directories under a single root.
type Manager struct {
	root   string
	logger *zap.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	saveCounter metric.Int64Counter

	// mu serializes backlog writes. Persistence is single-writer per
	// session directory even if leaf execution is ever parallelized.
	mu sync.Mutex
}

// NewManager creates a session manager rooted at the given directory,
// creating it if needed.
func NewManager(root string, logger *zap.Logger) (*Manager, error) {
	if root == "" {
		return nil, fault.Environment("session root directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fault.Environment(fmt.Sprintf("failed to create session root %s: %v", root, err))
	}

	m := &Manager{
		root:   root,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	var err error
	m.saveCounter, err = m.meter.Int64Counter(
		"backlogd.session.saves_total",
		metric.WithDescription("Total number of backlog saves"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		m.logger.Warn("failed to create save counter", zap.Error(err))
	}

	return m, nil
}

// Root returns the session root directory.
func (m *Manager) Root() string {
	return m.root
}

// HashDocument returns the 12-character hex identifier of a document.
func HashDocument(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:hashLength]
}

// Initialize creates or reopens the session for a requirements document.
//
// If a session directory with the document's hash already exists it is
// loaded, not recreated. Otherwise a new directory is created with the
// next sequence number and both the snapshot and a skeleton backlog are
// written before the session is reported as initialized; a failure at
// any step removes the partial directory so it is never mistaken for a
// successful initialization. When a prior session exists its directory
// name is recorded as the parent link, making the new session a delta
// session.
func (m *Manager) Initialize(ctx context.Context, documentPath string) (*Session, error) {
	ctx, span := m.tracer.Start(ctx, "session.initialize")
	defer span.End()

	doc, err := os.ReadFile(documentPath)
	if err != nil {
		return nil, fault.Session(fault.CodeSessionLoadFailed, "failed to read requirements document", err).
			With("path", documentPath)
	}
	hash := HashDocument(doc)
	span.SetAttributes(attribute.String("document_hash", hash))

	infos, err := m.scan()
	if err != nil {
		return nil, err
	}

	for _, info := range infos {
		if info.Hash == hash {
			m.logger.Info("reusing existing session",
				zap.String("session", info.Name),
				zap.String("hash", hash),
			)
			return m.Load(ctx, filepath.Join(m.root, info.Name))
		}
	}

	seq := 1
	parent := ""
	if len(infos) > 0 {
		latest := infos[len(infos)-1]
		seq = latest.Sequence + 1
		parent = latest.Name
	}

	dir := filepath.Join(m.root, fmt.Sprintf("%03d_%s", seq, hash))
	if err := os.Mkdir(dir, dirPerm); err != nil {
		return nil, fault.Session(fault.CodeSessionSaveFailed, "failed to create session directory", err).
			With("path", dir)
	}

	cleanup := func(cause *fault.Error) (*Session, error) {
		// Best effort: never leave a half-initialized session behind.
		_ = os.RemoveAll(dir)
		return nil, cause
	}

	if err := atomicWrite(filepath.Join(dir, snapshotFile), doc); err != nil {
		return cleanup(fault.Session(fault.CodeSessionSaveFailed, "failed to write document snapshot", err).
			With("path", filepath.Join(dir, snapshotFile)))
	}

	skeleton, err := backlog.Marshal(backlog.New())
	if err != nil {
		return cleanup(fault.Session(fault.CodeSessionSaveFailed, "failed to serialize skeleton backlog", err))
	}
	if err := atomicWrite(filepath.Join(dir, backlogFile), skeleton); err != nil {
		return cleanup(fault.Session(fault.CodeSessionSaveFailed, "failed to write skeleton backlog", err).
			With("path", filepath.Join(dir, backlogFile)))
	}

	if parent != "" {
		if err := atomicWrite(filepath.Join(dir, parentFile), []byte(parent+"\n")); err != nil {
			return cleanup(fault.Session(fault.CodeSessionSaveFailed, "failed to write parent link", err).
				With("path", filepath.Join(dir, parentFile)))
		}
	}

	createdAt := time.Now()
	if stat, err := os.Stat(dir); err == nil {
		createdAt = stat.ModTime()
	}

	m.logger.Info("initialized session",
		zap.String("session", filepath.Base(dir)),
		zap.String("hash", hash),
		zap.String("parent", parent),
	)

	return &Session{
		Dir:       dir,
		Sequence:  seq,
		Hash:      hash,
		Backlog:   backlog.New(),
		Snapshot:  doc,
		ParentDir: parent,
		CreatedAt: createdAt,
	}, nil
}

// Load reconstructs a session from its directory. A malformed backlog is
// a fatal load failure, not silently repaired. A missing parent-link
// file means no parent; any other parent-link read failure is surfaced.
func (m *Manager) Load(ctx context.Context, dir string) (*Session, error) {
	_, span := m.tracer.Start(ctx, "session.load")
	defer span.End()
	span.SetAttributes(attribute.String("session_dir", dir))

	name := filepath.Base(dir)
	match := sessionDirPattern.FindStringSubmatch(name)
	if match == nil {
		return nil, fault.Session(fault.CodeSessionLoadFailed, "directory name is not a session", nil).
			With("path", dir)
	}
	seq, err := strconv.Atoi(match[1])
	if err != nil {
		return nil, fault.Session(fault.CodeSessionLoadFailed, "invalid session sequence", err).
			With("path", dir)
	}
	hash := match[2]

	data, err := os.ReadFile(filepath.Join(dir, backlogFile))
	if err != nil {
		return nil, fault.Session(fault.CodeSessionLoadFailed, "failed to read backlog", err).
			With("path", filepath.Join(dir, backlogFile)).
			With("operation", "load_backlog")
	}
	b, err := backlog.Parse(data, fault.OpParseBacklog)
	if err != nil {
		return nil, fault.Session(fault.CodeSessionLoadFailed, "backlog is malformed", err).
			With("path", filepath.Join(dir, backlogFile)).
			With("operation", "parse_backlog")
	}

	snapshot, err := os.ReadFile(filepath.Join(dir, snapshotFile))
	if err != nil {
		return nil, fault.Session(fault.CodeSessionLoadFailed, "failed to read document snapshot", err).
			With("path", filepath.Join(dir, snapshotFile)).
			With("operation", "load_snapshot")
	}

	parent := ""
	parentData, err := os.ReadFile(filepath.Join(dir, parentFile))
	switch {
	case err == nil:
		parent = strings.TrimSpace(string(parentData))
	case errors.Is(err, fs.ErrNotExist):
		// No parent link: this is a root session.
	default:
		return nil, fault.Session(fault.CodeSessionLoadFailed, "failed to read parent link", err).
			With("path", filepath.Join(dir, parentFile)).
			With("operation", "load_parent_link")
	}

	createdAt := time.Now()
	if stat, err := os.Stat(dir); err == nil {
		createdAt = stat.ModTime()
	}

	m.logger.Debug("loaded session",
		zap.String("session", name),
		zap.Int("leaves", len(b.Leaves())),
	)

	return &Session{
		Dir:       dir,
		Sequence:  seq,
		Hash:      hash,
		Backlog:   b,
		Snapshot:  snapshot,
		ParentDir: parent,
		CreatedAt: createdAt,
	}, nil
}

// SaveBacklog validates and durably persists a backlog. Invalid input is
// rejected before anything touches disk. The write is atomic: content
// goes to a uniquely named temporary file in the session directory, then
// a rename moves it onto the target, so a reader observes either the
// fully-old or fully-new content.
func (m *Manager) SaveBacklog(ctx context.Context, s *Session, b *backlog.Backlog) error {
	ctx, span := m.tracer.Start(ctx, "session.save_backlog")
	defer span.End()
	span.SetAttributes(attribute.String("session_dir", s.Dir))

	if err := backlog.Validate(b, fault.OpSaveBacklog); err != nil {
		return err
	}

	data, err := backlog.Marshal(b)
	if err != nil {
		return fault.Session(fault.CodeSessionSaveFailed, "failed to serialize backlog", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := atomicWrite(s.BacklogPath(), data); err != nil {
		return fault.Session(fault.CodeSessionSaveFailed, "failed to write backlog", err).
			With("path", s.BacklogPath())
	}
	s.Backlog = b

	if m.saveCounter != nil {
		m.saveCounter.Add(ctx, 1)
	}
	m.logger.Debug("saved backlog",
		zap.String("session", s.Name()),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// Sessions lists the session directories under the root in sequence order.
func (m *Manager) Sessions() ([]Info, error) {
	return m.scan()
}

func (m *Manager) scan() ([]Info, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fault.Session(fault.CodeSessionScanFailed, "failed to scan session root", err).
			With("path", m.root)
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		match := sessionDirPattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		seq, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		info := Info{Name: entry.Name(), Sequence: seq, Hash: match[2]}
		if stat, err := entry.Info(); err == nil {
			info.CreatedAt = stat.ModTime()
		}
		if parentData, err := os.ReadFile(filepath.Join(m.root, entry.Name(), parentFile)); err == nil {
			info.ParentDir = strings.TrimSpace(string(parentData))
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Sequence < infos[j].Sequence })
	return infos, nil
}

// atomicWrite writes data to path via a temporary file in the same
// directory followed by a rename. The rename is the only state
// transition; on any failure the temporary file is best-effort removed
// and the original error propagates.
func atomicWrite(path string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s-%s.tmp", filepath.Base(path), uuid.NewString()))
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
