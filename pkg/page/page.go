// Package page serves the chat document. The built-in document is embedded
// in the binary; a file on disk can replace it and is reloaded when it
// changes.
package page

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

//go:embed index.html
var embedded []byte

const debounceDelay = 100 * time.Millisecond

// Page holds the current document. It is safe for concurrent use.
type Page struct {
	path string
	body atomic.Pointer[[]byte]
}

// Embedded returns a Page serving the built-in document.
func Embedded() *Page {
	p := &Page{}
	p.body.Store(&embedded)
	return p
}

// Load returns a Page serving the file at path.
func Load(path string) (*Page, error) {
	p := &Page{path: path}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Bytes returns the current document.
func (p *Page) Bytes() []byte {
	return *p.body.Load()
}

// ServeHTTP writes the current document as HTML.
func (p *Page) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(p.Bytes())
}

func (p *Page) reload() error {
	data, err := os.ReadFile(p.path) //nolint:gosec // operator-configured page file
	if err != nil {
		return fmt.Errorf("page: read %s: %w", p.path, err)
	}
	p.body.Store(&data)
	return nil
}

// Watch reloads the document whenever its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file on save
// are followed. A failed reload keeps the previous document. Watch returns
// once the watcher is installed; it is a no-op for an embedded Page.
func (p *Page) Watch(ctx context.Context, logger *slog.Logger) error {
	if p.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("page: watch: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("page: watch %s: %w", dir, err)
	}

	name := filepath.Clean(p.path)

	go func() {
		defer func() { _ = watcher.Close() }()

		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}

				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					if err := p.reload(); err != nil {
						logger.Warn("page reload failed", "error", err)
						return
					}
					logger.Info("page reloaded", "path", p.path)
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("page watcher error", "error", err)
			}
		}
	}()

	return nil
}
