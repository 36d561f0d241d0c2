package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sweeney/gpio-sequencer/internal/logging"
)

const settle = 20 * time.Millisecond

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// reloads returns a reload handler and the channel it sends on. Sends never
// block so a slow test cannot stall the watcher.
func reloads() (func(Config), chan Config) {
	ch := make(chan Config, 1)
	return func(c Config) {
		select {
		case ch <- c:
		default:
		}
	}, ch
}

func waitReload(t *testing.T, ch <-chan Config) Config {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after file change")
	}
	return Config{}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sequencer.yaml")
	writeFile(t, path, "outputs:\n  - {name: a, line: 1}\ncooldown_ms: 100\n")

	reload, ch := reloads()
	w, err := Watch(path, settle, logging.Discard(), reload, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, "outputs:\n  - {name: a, line: 1}\ncooldown_ms: 250\n")

	if c := waitReload(t, ch); c.CooldownMs != 250 {
		t.Errorf("reloaded cooldown: got %d, want 250", c.CooldownMs)
	}
}

func TestWatcherReloadsOnReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sequencer.yaml")
	writeFile(t, path, "outputs:\n  - {name: a, line: 1}\n")

	reload, ch := reloads()
	w, err := Watch(path, settle, logging.Discard(), reload, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	// editors save by writing a temp file and renaming it over the original
	tmp := filepath.Join(dir, ".sequencer.yaml.swp")
	writeFile(t, tmp, "outputs:\n  - {name: a, line: 1}\ncooldown_ms: 400\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if c := waitReload(t, ch); c.CooldownMs != 400 {
		t.Errorf("reloaded cooldown: got %d, want 400", c.CooldownMs)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sequencer.yaml")
	writeFile(t, path, "outputs:\n  - {name: a, line: 1}\n")

	reload, ch := reloads()
	w, err := Watch(path, settle, logging.Discard(), reload, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	writeFile(t, filepath.Join(dir, "notes.txt"), "unrelated")

	select {
	case <-ch:
		t.Error("reloaded for a change to another file")
	case <-time.After(10 * settle):
	}
}

func TestWatcherReportsLoadErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sequencer.yaml")
	writeFile(t, path, "outputs:\n  - {name: a, line: 1}\n")

	failed := make(chan error, 1)
	var called atomic.Bool
	w, err := Watch(path, settle, logging.Discard(),
		func(Config) { called.Store(true) },
		func(err error) {
			select {
			case failed <- err:
			default:
			}
		},
	)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, "outputs: []\n")

	select {
	case err := <-failed:
		if err == nil {
			t.Error("expected a load error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failure handler not called")
	}
	if called.Load() {
		t.Error("reload handler should not run for an invalid file")
	}
}

func TestWatchMissingFile(t *testing.T) {
	_, err := Watch(filepath.Join(t.TempDir(), "missing.yaml"), settle, logging.Discard(), func(Config) {}, nil)
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
