package jsvm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatchEvictsChangedModule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "value.js")
	if err := os.WriteFile(path, []byte(`module.exports = 1;`), 0644); err != nil {
		t.Fatal(err)
	}

	sb := New(Config{Cwd: dir}, zerolog.Nop())
	defer sb.Close()

	val, err := sb.Require("./value", "")
	if err != nil {
		t.Fatalf("require: %v", err)
	}
	if val.ToInteger() != 1 {
		t.Fatalf("got %v, want 1", val)
	}

	// Already loaded modules are picked up when watching starts.
	if err := sb.Watch(); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := sb.Watch(); err != nil {
		t.Fatalf("second watch: %v", err)
	}

	if err := os.WriteFile(path, []byte(`module.exports = 2;`), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		sb.mu.Lock()
		_, cached := sb.cache[filepath.Join(dir, "value")]
		sb.mu.Unlock()
		if !cached {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("module was not evicted")
		}
		time.Sleep(20 * time.Millisecond)
	}

	val, err = sb.Require("./value", "")
	if err != nil {
		t.Fatalf("require after change: %v", err)
	}
	if val.ToInteger() != 2 {
		t.Errorf("got %v, want 2", val)
	}
}

func TestEvictPathKeepsLoadingEntries(t *testing.T) {
	sb := newTestSandbox(t, nil)

	sb.cache["/app/a"] = &cacheEntry{path: "/app/a.js", state: stateLoaded}
	sb.cache["/app/b"] = &cacheEntry{path: "/app/a.js", state: stateLoading}
	sb.cache["/app/c"] = &cacheEntry{path: "/app/c.js", state: stateLoaded}

	if n := sb.evictPath("/app/a.js"); n != 1 {
		t.Errorf("evicted %d, want 1", n)
	}
	if _, ok := sb.cache["/app/b"]; !ok {
		t.Error("loading entry must not be evicted")
	}
	if _, ok := sb.cache["/app/c"]; !ok {
		t.Error("unrelated entry evicted")
	}
}

func TestWatchClosedSandbox(t *testing.T) {
	sb := newTestSandbox(t, nil)
	_ = sb.Close()

	if err := sb.Watch(); err == nil {
		t.Error("watch on a closed sandbox should fail")
	}
}
