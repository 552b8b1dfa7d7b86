package cli

import (
	"os"
	"path/filepath"
)

const (
	// DefaultBaseDir is the directory under the user's home
	DefaultBaseDir = ".voicever"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "voicever.yaml"
)

// Paths resolves the voicever directory layout:
//
//	~/.voicever/voicever.yaml   configuration
//	~/.voicever/data/           badger database
//	~/.voicever/blobs/          embeddings, audio, synthesized artifacts
type Paths struct {
	HomeDir string
}

// NewPaths resolves the layout under the current user's home.
func NewPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Paths{HomeDir: home}, nil
}

// BaseDir returns ~/.voicever
func (p *Paths) BaseDir() string {
	return filepath.Join(p.HomeDir, DefaultBaseDir)
}

// ConfigFile returns ~/.voicever/voicever.yaml
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.BaseDir(), DefaultConfigFile)
}

// Resolve joins a configured directory onto BaseDir unless it is absolute.
func (p *Paths) Resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(p.BaseDir(), dir)
}

// Ensure creates dir with the usual permissions.
func (p *Paths) Ensure(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
