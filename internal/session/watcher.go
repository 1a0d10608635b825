package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeEvent is emitted when the watched document's content hash moves
// away from the hash the active session was created from.
type ChangeEvent struct {
	Path    string
	OldHash string
	NewHash string
}

// Watcher observes a requirements document and reports content changes.
// It watches the containing directory rather than the file itself so
// editor save strategies that replace the file (write-to-temp + rename)
// are still observed.
type Watcher struct {
	docPath string
	hash    string
	events  chan ChangeEvent
	fsw     *fsnotify.Watcher
	logger  *zap.Logger
}

// NewWatcher creates a watcher for documentPath. currentHash is the hash
// of the document the active session was created from.
func NewWatcher(documentPath, currentHash string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(documentPath)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(documentPath), err)
	}
	return &Watcher{
		docPath: documentPath,
		hash:    currentHash,
		events:  make(chan ChangeEvent, 1),
		fsw:     fsw,
		logger:  logger,
	}, nil
}

// Events returns the channel of document change events.
func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

// Run processes filesystem events until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Name != w.docPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.check(ctx)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("document watcher error", zap.Error(err))
		}
	}
}

// Close releases the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) check(ctx context.Context) {
	data, err := os.ReadFile(w.docPath)
	if err != nil {
		w.logger.Warn("failed to re-read watched document", zap.Error(err))
		return
	}
	newHash := HashDocument(data)
	if newHash == w.hash {
		return
	}

	w.logger.Info("watched document changed",
		zap.String("path", w.docPath),
		zap.String("old_hash", w.hash),
		zap.String("new_hash", newHash),
	)
	ev := ChangeEvent{Path: w.docPath, OldHash: w.hash, NewHash: newHash}
	w.hash = newHash

	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}
