package runtime

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestContextPool(t *testing.T) {
	pool := NewContextPool()
	paths := []string{"/up/1f/wu_1_0_0"}

	c := pool.Allocate("wu_1_0", paths)
	paths[0] = "mutated"

	got, err := c.Paths()
	if err != nil {
		t.Fatalf("Paths failed: %v", err)
	}
	if got[0] != "/up/1f/wu_1_0_0" {
		t.Errorf("Expected the context to own its paths, got %v", got)
	}
	got[0] = "mutated again"
	if again, _ := c.Paths(); again[0] != "/up/1f/wu_1_0_0" {
		t.Errorf("Paths must return a copy, got %v", again)
	}

	if live, ok := pool.Live("wu_1_0"); !ok || live != c {
		t.Error("Expected the context to be live")
	}

	if err := pool.Release(c); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !c.Released() {
		t.Error("Expected the context to be released")
	}
	if _, err := c.Paths(); !errors.Is(err, ErrContextReleased) {
		t.Errorf("Expected ErrContextReleased, got %v", err)
	}
	if err := pool.Release(c); !errors.Is(err, ErrContextReleased) {
		t.Errorf("Expected ErrContextReleased on double release, got %v", err)
	}

	want := PoolStats{Allocated: 1, Released: 1, Live: 0}
	if stats := pool.Stats(); stats != want {
		t.Errorf("Stats() = %+v, want %+v", stats, want)
	}
}

func TestContextPool_ReleaseOfReplacedContext(t *testing.T) {
	pool := NewContextPool()
	old := pool.Allocate("wu_1_0", nil)
	current := pool.Allocate("wu_1_0", nil)

	if err := pool.Release(old); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if live, ok := pool.Live("wu_1_0"); !ok || live != current {
		t.Error("Releasing a replaced context must keep the current one live")
	}
}

func TestFileContext_Nil(t *testing.T) {
	var c *FileContext
	if _, err := c.Paths(); err == nil {
		t.Error("Expected error for nil context")
	}
	if err := NewContextPool().Release(nil); err == nil {
		t.Error("Expected error for releasing nil")
	}
}

func TestFindModule(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()

	mustWrite := func(path string) {
		t.Helper()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("-- module"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite(filepath.Join(second, "boinctools.lua"))
	mustWrite(filepath.Join(first, "site", "hooks.lua"))
	mustWrite(filepath.Join(first, "boinctools.risor"))
	if err := os.Mkdir(filepath.Join(first, "dironly.lua"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		module string
		ext    string
		want   string
		found  bool
	}{
		{"later directory", "boinctools", ".lua", filepath.Join(second, "boinctools.lua"), true},
		{"extension selects the engine", "boinctools", ".risor", filepath.Join(first, "boinctools.risor"), true},
		{"dotted name", "site.hooks", ".lua", filepath.Join(first, "site", "hooks.lua"), true},
		{"missing", "nothere", ".lua", "", false},
		{"directory is not a module", "dironly", ".lua", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := FindModule([]string{first, second}, tt.module, tt.ext)
			if found != tt.found || got != tt.want {
				t.Errorf("FindModule(%q) = %q, %v; want %q, %v", tt.module, got, found, tt.want, tt.found)
			}
		})
	}
}

func TestValidatePathWithinBoundary(t *testing.T) {
	tests := []struct {
		name      string
		boundary  string
		target    string
		shouldErr bool
	}{
		{"inside", "/srv/upload", "/srv/upload/1f/wu_1_0_0", false},
		{"equal", "/srv/upload", "/srv/upload", false},
		{"parent", "/srv/upload", "/srv", true},
		{"traversal", "/srv/upload", "/srv/upload/../../etc/passwd", true},
		{"sibling prefix", "/srv/upload", "/srv/upload2/x", true},
		{"dotdot file name", "/srv/upload", "/srv/upload/..data", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinBoundary(tt.boundary, tt.target)
			if tt.shouldErr && err == nil {
				t.Errorf("Expected error for %s, got nil", tt.target)
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("Expected no error for %s, got %v", tt.target, err)
			}
		})
	}
}
