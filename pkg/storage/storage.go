// Package storage holds the binary artifacts of the voice system: reference
// embeddings (.f32), age-delta models and cached synthesized audio (.wav).
//
// A FileStore is one backend (local disk or an S3-compatible bucket). A
// Chain resolves a reference path against several backends in a fixed
// precedence order, so a local working copy can shadow the shared bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
)

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file for reading.
	// The caller must close the returned ReadCloser when done.
	// If the file does not exist, an error wrapping fs.ErrNotExist is returned.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named file for writing.
	// If the file already exists it is replaced once the writer is closed.
	// The caller must close the returned WriteCloser to flush data.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file.
	// If the file does not exist, Delete returns nil (idempotent).
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// ReadAll reads the whole file at path.
func ReadAll(ctx context.Context, s FileStore, path string) ([]byte, error) {
	r, err := s.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// WriteAll writes data to path, replacing any previous content.
func WriteAll(ctx context.Context, s FileStore, path string, data []byte) error {
	w, err := s.Write(ctx, path)
	if err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	return nil
}

// Resolver loads the bytes behind a stored reference path.
type Resolver interface {
	Resolve(ctx context.Context, ref string) ([]byte, error)
}

// Layer is one named backend in a Chain.
type Layer struct {
	Name  string
	Store FileStore
}

// Chain resolves references against its layers in order. The first layer
// holding the file wins. A layer reporting fs.ErrNotExist is skipped; any
// other error aborts the lookup so an unreachable backend is never mistaken
// for a missing file.
type Chain struct {
	layers []Layer
	fill   bool
	logger *slog.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithFill copies a hit found in a later layer into the first layer.
func WithFill() ChainOption {
	return func(c *Chain) { c.fill = true }
}

// WithChainLogger sets the logger. Defaults to slog.Default().
func WithChainLogger(l *slog.Logger) ChainOption {
	return func(c *Chain) { c.logger = l }
}

// NewChain creates a Chain over layers, highest precedence first.
func NewChain(layers []Layer, opts ...ChainOption) *Chain {
	c := &Chain{layers: layers, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Resolve implements Resolver.
func (c *Chain) Resolve(ctx context.Context, ref string) ([]byte, error) {
	for i, l := range c.layers {
		data, err := ReadAll(ctx, l.Store, ref)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("storage: resolve %s via %s: %w", ref, l.Name, err)
		}
		if c.fill && i > 0 {
			if err := WriteAll(ctx, c.layers[0].Store, ref, data); err != nil {
				c.logger.WarnContext(ctx, "storage: fill failed", "ref", ref, "layer", c.layers[0].Name, "error", err)
			}
		}
		return data, nil
	}
	return nil, fmt.Errorf("storage: resolve %s: %w", ref, fs.ErrNotExist)
}

// Exists reports whether any layer holds ref.
func (c *Chain) Exists(ctx context.Context, ref string) (bool, error) {
	for _, l := range c.layers {
		ok, err := l.Store.Exists(ctx, ref)
		if err != nil {
			return false, fmt.Errorf("storage: exists %s via %s: %w", ref, l.Name, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

var _ Resolver = (*Chain)(nil)
