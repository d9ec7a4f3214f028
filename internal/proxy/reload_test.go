package proxy

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gzhole/calshield/internal/config"
)

func TestReloadWatcherDeliversNewConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("owner_domain: before.example\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got := make(chan *config.Config, 1)
	watcher := NewReloadWatcher(path, func(cfg *config.Config) {
		select {
		case got <- cfg:
		default:
		}
	})
	watcher.stderr = io.Discard

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	// Give the watcher a moment to register, then rewrite the file.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("owner_domain: after.example\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-got:
		if cfg.OwnerDomain != "after.example" {
			t.Errorf("reloaded owner domain = %q", cfg.OwnerDomain)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config change not delivered")
	}

	cancel()
	<-done
}

func TestReloadWatcherKeepsOldConfigOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("owner_domain: ok.example\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	calls := make(chan struct{}, 4)
	watcher := NewReloadWatcher(path, func(*config.Config) { calls <- struct{}{} })
	watcher.stderr = io.Discard

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// Invalid thresholds fail validation: the callback must not fire.
	bad := "thresholds: {suspicious: 0.9, dangerous: 0.5, critical: 0.2}\n"
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-calls:
		t.Fatal("invalid config must not be delivered")
	case <-time.After(700 * time.Millisecond):
	}
}
