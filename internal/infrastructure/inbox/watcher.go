// Package inbox ingests files dropped into a watched folder.
// Files directly in the root belong to the default owner; files in
// <root>/<owner>/ belong to that owner.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

const defaultSettle = 2 * time.Second

// Uploader is the part of the ingest use case the watcher drives.
type Uploader interface {
	Upload(ctx context.Context, req ports.UploadRequest) (*domain.Document, error)
}

type Options struct {
	DefaultOwner string
	// Settle is how long a file must stay unchanged before it is ingested.
	Settle time.Duration
}

type Watcher struct {
	root     string
	uploader Uploader
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
	done    chan struct{}
}

func New(root string, uploader Uploader, opts Options, logger *slog.Logger) (*Watcher, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: inbox path is required", domain.ErrInvalidInput)
	}
	if opts.Settle <= 0 {
		opts.Settle = defaultSettle
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve inbox path: %w", err)
	}
	return &Watcher{
		root:     abs,
		uploader: uploader,
		opts:     opts,
		logger:   logger.With("component", "inbox"),
		pending:  make(map[string]*time.Timer),
		ready:    make(chan string, 64),
		done:     make(chan struct{}),
	}, nil
}

// Run ingests files already present, then watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("create inbox dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.root); err != nil {
		return fmt.Errorf("watch inbox: %w", err)
	}
	existing, err := w.scan(watcher)
	if err != nil {
		return err
	}
	w.logger.Info("inbox watcher started", "path", w.root, "queued", len(existing))
	for _, path := range existing {
		w.schedule(path)
	}

	defer w.stopTimers()
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(watcher, evt)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watch error", "error", err)
		case path := <-w.ready:
			w.ingest(ctx, path)
		}
	}
}

// scan watches every owner directory and returns the files waiting in the inbox.
func (w *Watcher) scan(watcher *fsnotify.Watcher) ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == w.root {
			return nil
		}
		if skipName(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if filepath.Dir(path) != w.root {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan inbox: %w", err)
	}
	return files, nil
}

func (w *Watcher) handleEvent(watcher *fsnotify.Watcher, evt fsnotify.Event) {
	if skipName(filepath.Base(evt.Name)) {
		return
	}
	switch {
	case evt.Op.Has(fsnotify.Create), evt.Op.Has(fsnotify.Write):
	default:
		return
	}
	info, err := os.Stat(evt.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if filepath.Dir(evt.Name) == w.root {
			if err := watcher.Add(evt.Name); err != nil {
				w.logger.Warn("watch owner dir", "path", evt.Name, "error", err)
			}
		}
		return
	}
	if info.Mode().IsRegular() {
		w.schedule(evt.Name)
	}
}

// schedule (re)starts the settle timer of path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.opts.Settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.opts.Settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("open inbox file", "path", path, "error", err)
		}
		return
	}
	owner := w.ownerOf(path)
	doc, err := w.uploader.Upload(ctx, ports.UploadRequest{
		OwnerID:  owner,
		Filename: filepath.Base(path),
		MimeType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
		Body:     f,
	})
	f.Close()
	if err != nil {
		w.logger.Error("inbox upload failed", "path", path, "owner", owner, "error", err)
		return
	}
	if err := os.Remove(path); err != nil {
		w.logger.Warn("inbox file not removed after upload", "path", path, "document_id", doc.ID, "error", err)
	}
	w.logger.Info("inbox file ingested", "path", path, "owner", owner, "document_id", doc.ID)
}

// ownerOf returns the owner subdirectory of path, or the default owner for files in the root.
func (w *Watcher) ownerOf(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return w.opts.DefaultOwner
	}
	dir, _, found := strings.Cut(filepath.ToSlash(rel), "/")
	if !found {
		return w.opts.DefaultOwner
	}
	return dir
}

// skipName ignores hidden files and partial downloads.
func skipName(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".part") ||
		strings.HasSuffix(name, ".crdownload") ||
		strings.HasSuffix(name, ".tmp")
}
