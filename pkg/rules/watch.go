package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Reloader accepts a freshly loaded catalog.
type Reloader interface {
	ReplaceRules(rules []Rule) error
}

// CatalogWatcher reloads a YAML catalog file into a Reloader whenever the
// file is written, created or renamed into place. A file that fails to load
// or validate leaves the current catalog untouched.
type CatalogWatcher struct {
	path     string
	target   Reloader
	watcher  *fsnotify.Watcher
	OnReload func(rules int, err error)
}

func NewCatalogWatcher(path string, target Reloader) (*CatalogWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve catalog path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors and config management replace files by
	// rename, which drops a watch held on the file itself.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &CatalogWatcher{path: abs, target: target, watcher: w}, nil
}

// Run blocks until ctx is done or the watcher fails.
func (cw *CatalogWatcher) Run(ctx context.Context) error {
	defer cw.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != cw.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			cw.reload()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("catalog watcher: %w", err)
		}
	}
}

func (cw *CatalogWatcher) reload() {
	rules, err := LoadRules(cw.path)
	if err == nil {
		err = cw.target.ReplaceRules(rules)
	}
	if cw.OnReload != nil {
		cw.OnReload(len(rules), err)
	}
}
