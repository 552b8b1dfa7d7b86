package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewPaths(t *testing.T) {
	paths, err := NewPaths()
	if err != nil {
		t.Fatalf("NewPaths error: %v", err)
	}
	if paths.HomeDir == "" {
		t.Error("HomeDir should not be empty")
	}
}

func TestPathsLayout(t *testing.T) {
	home := t.TempDir()
	p := &Paths{HomeDir: home}

	if got, want := p.BaseDir(), filepath.Join(home, ".voicever"); got != want {
		t.Errorf("BaseDir() = %q, want %q", got, want)
	}
	if got, want := p.ConfigFile(), filepath.Join(home, ".voicever", "voicever.yaml"); got != want {
		t.Errorf("ConfigFile() = %q, want %q", got, want)
	}
	if got, want := p.Resolve("data"), filepath.Join(home, ".voicever", "data"); got != want {
		t.Errorf("Resolve(data) = %q, want %q", got, want)
	}
	abs := filepath.Join(home, "elsewhere")
	if got := p.Resolve(abs); got != abs {
		t.Errorf("Resolve(abs) = %q, want unchanged", got)
	}
}

func TestPathsEnsure(t *testing.T) {
	p := &Paths{HomeDir: t.TempDir()}
	dir := p.Resolve("blobs")
	if err := p.Ensure(dir); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Errorf("blobs dir not created: %v", err)
	}
}
