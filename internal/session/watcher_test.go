package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatcher_ReportsContentChange(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "requirements.md")
	require.NoError(t, os.WriteFile(doc, []byte("revision one"), 0o644))

	w, err := NewWatcher(doc, HashDocument([]byte("revision one")), zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// Give the watcher a beat to register before mutating the file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(doc, []byte("revision two"), 0o644))

	select {
	case ev := <-w.Events():
		assert.Equal(t, doc, ev.Path)
		assert.Equal(t, HashDocument([]byte("revision one")), ev.OldHash)
		assert.Equal(t, HashDocument([]byte("revision two")), ev.NewHash)
	case <-time.After(3 * time.Second):
		t.Fatal("no change event received")
	}
}

func TestWatcher_SeesRenameStyleSaves(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "requirements.md")
	require.NoError(t, os.WriteFile(doc, []byte("revision one"), 0o644))

	w, err := NewWatcher(doc, HashDocument([]byte("revision one")), zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)

	// Editors commonly save by writing a temp file and renaming it over
	// the target; the directory watch must still observe the change.
	tmp := filepath.Join(dir, ".requirements.md.swp")
	require.NoError(t, os.WriteFile(tmp, []byte("revision two"), 0o644))
	require.NoError(t, os.Rename(tmp, doc))

	select {
	case ev := <-w.Events():
		assert.Equal(t, HashDocument([]byte("revision two")), ev.NewHash)
	case <-time.After(3 * time.Second):
		t.Fatal("no change event received")
	}
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "requirements.md")
	require.NoError(t, os.WriteFile(doc, []byte("revision one"), 0o644))

	w, err := NewWatcher(doc, HashDocument([]byte("revision one")), zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.md"), []byte("noise"), 0o644))

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for %s", ev.Path)
	case <-time.After(300 * time.Millisecond):
	}
}
