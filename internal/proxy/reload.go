package proxy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gzhole/calshield/internal/config"
)

// reloadDebounce coalesces the event bursts editors emit on save.
const reloadDebounce = 200 * time.Millisecond

// ReloadWatcher watches the config file and delivers freshly loaded,
// validated configs to a callback. A config that fails to load keeps
// the previous one in force.
type ReloadWatcher struct {
	path     string
	onChange func(*config.Config)
	stderr   io.Writer
}

// NewReloadWatcher creates a watcher for the config file at path.
func NewReloadWatcher(path string, onChange func(*config.Config)) *ReloadWatcher {
	return &ReloadWatcher{path: path, onChange: onChange, stderr: os.Stderr}
}

// Run watches until ctx is cancelled. The parent directory is watched
// rather than the file itself, so atomic-rename saves are seen.
func (w *ReloadWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if pending {
				timer.Reset(reloadDebounce)
				continue
			}
			pending = true
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			pending = false
			cfg, err := config.Load(w.path)
			if err != nil {
				fmt.Fprintf(w.stderr, "[CalShield] config reload failed, keeping previous: %v\n", err)
				continue
			}
			w.onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(w.stderr, "[CalShield] config watcher error: %v\n", err)
		}
	}
}
