package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/backlogd/internal/backlog"
	"github.com/fyrsmithlabs/backlogd/internal/fault"
)

// writeDoc writes a requirements document into dir and returns its path.
func writeDoc(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "requirements.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "plan")
	m, err := NewManager(root, zap.NewNop())
	require.NoError(t, err)
	return m, root
}

// sessionTestTree builds a valid backlog with the given number of leaves.
func sessionTestTree(leaves int) *backlog.Backlog {
	task := &backlog.Task{ID: "P1.M1.T1", Title: "task", Status: backlog.StatusPlanned}
	for i := 1; i <= leaves; i++ {
		task.Subtasks = append(task.Subtasks, &backlog.Subtask{
			ID:           fmt.Sprintf("P1.M1.T1.S%d", i),
			Title:        fmt.Sprintf("leaf %d", i),
			Status:       backlog.StatusPlanned,
			StoryPoints:  2,
			ContextScope: backlog.ContractHeader + " do the work",
		})
	}
	return &backlog.Backlog{Phases: []*backlog.Phase{{
		ID:     "P1",
		Title:  "phase",
		Status: backlog.StatusPlanned,
		Milestones: []*backlog.Milestone{{
			ID:     "P1.M1",
			Title:  "milestone",
			Status: backlog.StatusPlanned,
			Tasks:  []*backlog.Task{task},
		}},
	}}}
}

func TestHashDocument(t *testing.T) {
	a := HashDocument([]byte("build a parser"))
	b := HashDocument([]byte("build a parser"))
	c := HashDocument([]byte("build a compiler"))

	assert.Equal(t, a, b, "identical content must hash identically")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, hashLength)
	assert.Regexp(t, "^[0-9a-f]+$", a)
}

func TestNewManager_RequiresRoot(t *testing.T) {
	_, err := NewManager("", zap.NewNop())
	require.Error(t, err)

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fault.KindEnvironment, fe.Kind)
}

func TestNewManager_CreatesRoot(t *testing.T) {
	_, root := newTestManager(t)
	stat, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, stat.IsDir())
}

func TestInitialize_CreatesSessionDirectory(t *testing.T) {
	m, root := newTestManager(t)
	doc := writeDoc(t, t.TempDir(), "# Requirements\nbuild the thing\n")

	s, err := m.Initialize(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, 1, s.Sequence)
	assert.Equal(t, fmt.Sprintf("001_%s", s.Hash), s.Name())
	assert.Equal(t, filepath.Join(root, s.Name()), s.Dir)
	assert.Empty(t, s.ParentDir)
	assert.True(t, s.Backlog.Empty())

	snapshot, err := os.ReadFile(s.SnapshotPath())
	require.NoError(t, err)
	assert.Equal(t, "# Requirements\nbuild the thing\n", string(snapshot))

	data, err := os.ReadFile(s.BacklogPath())
	require.NoError(t, err)
	parsed, err := backlog.Parse(data, fault.OpParseBacklog)
	require.NoError(t, err)
	assert.True(t, parsed.Empty())

	_, err = os.Stat(filepath.Join(s.Dir, parentFile))
	assert.ErrorIs(t, err, os.ErrNotExist, "root sessions have no parent link")
}

func TestInitialize_ReusesSessionForUnchangedDocument(t *testing.T) {
	m, root := newTestManager(t)
	doc := writeDoc(t, t.TempDir(), "stable content")

	first, err := m.Initialize(context.Background(), doc)
	require.NoError(t, err)
	second, err := m.Initialize(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, first.Dir, second.Dir)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestInitialize_ChangedDocumentLinksParent(t *testing.T) {
	m, _ := newTestManager(t)
	docDir := t.TempDir()
	doc := writeDoc(t, docDir, "revision one")

	first, err := m.Initialize(context.Background(), doc)
	require.NoError(t, err)

	doc = writeDoc(t, docDir, "revision two")
	second, err := m.Initialize(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, 2, second.Sequence)
	assert.Equal(t, first.Name(), second.ParentDir)
	assert.NotEqual(t, first.Hash, second.Hash)

	link, err := os.ReadFile(filepath.Join(second.Dir, parentFile))
	require.NoError(t, err)
	assert.Equal(t, first.Name(), strings.TrimSpace(string(link)))
}

func TestInitialize_MissingDocument(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Initialize(context.Background(), filepath.Join(t.TempDir(), "absent.md"))
	require.Error(t, err)

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fault.CodeSessionLoadFailed, fe.Code)
	assert.True(t, fault.IsFatal(err, false))
}

func TestLoad_RoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	doc := writeDoc(t, t.TempDir(), "load me")

	s, err := m.Initialize(context.Background(), doc)
	require.NoError(t, err)

	saved := sessionTestTree(2)
	require.NoError(t, m.SaveBacklog(context.Background(), s, saved))

	loaded, err := m.Load(context.Background(), s.Dir)
	require.NoError(t, err)

	assert.Equal(t, s.Sequence, loaded.Sequence)
	assert.Equal(t, s.Hash, loaded.Hash)
	assert.Equal(t, []byte("load me"), loaded.Snapshot)
	assert.Len(t, loaded.Backlog.Leaves(), 2)
	assert.Empty(t, loaded.ParentDir)
}

func TestLoad_RejectsNonSessionDirectory(t *testing.T) {
	m, _ := newTestManager(t)
	dir := t.TempDir()

	_, err := m.Load(context.Background(), dir)
	require.Error(t, err)

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fault.CodeSessionLoadFailed, fe.Code)
}

func TestLoad_MalformedBacklogIsFatal(t *testing.T) {
	m, _ := newTestManager(t)
	doc := writeDoc(t, t.TempDir(), "corrupt me")

	s, err := m.Initialize(context.Background(), doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.BacklogPath(), []byte("phases: [not a tree"), 0o644))

	_, err = m.Load(context.Background(), s.Dir)
	require.Error(t, err)
	assert.True(t, fault.IsFatal(err, false), "a malformed backlog must abort, not be repaired")
}

func TestSaveBacklog_RejectsInvalidWithoutTouchingDisk(t *testing.T) {
	m, _ := newTestManager(t)
	doc := writeDoc(t, t.TempDir(), "guard the file")

	s, err := m.Initialize(context.Background(), doc)
	require.NoError(t, err)
	require.NoError(t, m.SaveBacklog(context.Background(), s, sessionTestTree(1)))

	before, err := os.ReadFile(s.BacklogPath())
	require.NoError(t, err)

	bad := sessionTestTree(1)
	bad.Phases[0].Milestones[0].Tasks[0].Subtasks[0].StoryPoints = 0
	err = m.SaveBacklog(context.Background(), s, bad)
	require.Error(t, err)

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fault.KindValidation, fe.Kind)

	after, err := os.ReadFile(s.BacklogPath())
	require.NoError(t, err)
	assert.Equal(t, before, after, "a rejected save must leave the file untouched")
}

func TestSaveBacklog_LeavesNoTemporaryFiles(t *testing.T) {
	m, _ := newTestManager(t)
	doc := writeDoc(t, t.TempDir(), "tidy")

	s, err := m.Initialize(context.Background(), doc)
	require.NoError(t, err)
	require.NoError(t, m.SaveBacklog(context.Background(), s, sessionTestTree(3)))

	entries, err := os.ReadDir(s.Dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestSaveBacklog_UpdatesSessionState(t *testing.T) {
	m, _ := newTestManager(t)
	doc := writeDoc(t, t.TempDir(), "state")

	s, err := m.Initialize(context.Background(), doc)
	require.NoError(t, err)

	tree := sessionTestTree(2)
	require.NoError(t, m.SaveBacklog(context.Background(), s, tree))
	assert.Same(t, tree, s.Backlog)
}

func TestSessions_SortedAndFiltered(t *testing.T) {
	m, root := newTestManager(t)
	docDir := t.TempDir()

	doc := writeDoc(t, docDir, "one")
	_, err := m.Initialize(context.Background(), doc)
	require.NoError(t, err)

	doc = writeDoc(t, docDir, "two")
	_, err = m.Initialize(context.Background(), doc)
	require.NoError(t, err)

	// Noise that must not be reported as sessions.
	require.NoError(t, os.Mkdir(filepath.Join(root, "notes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644))

	infos, err := m.Sessions()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, 1, infos[0].Sequence)
	assert.Equal(t, 2, infos[1].Sequence)
	assert.Equal(t, infos[0].Name, infos[1].ParentDir)
}

func TestSession_ArtifactDirFlattensNodeID(t *testing.T) {
	m, _ := newTestManager(t)
	doc := writeDoc(t, t.TempDir(), "artifacts")

	s, err := m.Initialize(context.Background(), doc)
	require.NoError(t, err)

	dir, err := s.ArtifactDir("P1.M3.T2.S2")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir, "P1M3T2S2"), dir)

	stat, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, stat.IsDir())
}

func TestAtomicWrite_ReplacesExistingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target.yaml")

	require.NoError(t, atomicWrite(path, []byte("first")))
	require.NoError(t, atomicWrite(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestAtomicWrite_FailedRenameLeavesTargetIntact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target.yaml")
	require.NoError(t, atomicWrite(path, []byte("original")))

	// A directory at the target path makes the rename fail after the
	// temporary file was written.
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.Mkdir(blocked, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(blocked, "x"), []byte("x"), 0o644))

	err := atomicWrite(blocked, []byte("new content"))
	require.Error(t, err)

	// The original target is untouched and no temp files linger.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}
