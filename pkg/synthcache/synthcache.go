// Package synthcache makes speech synthesis idempotent per request.
//
// A request is addressed by the sha256 of "model|reference|text". The audio
// is stored once in a storage.FileStore at synth/{fp[:2]}/{fp}.wav and
// indexed in a kv.Store under {prefix}:{fp}. Concurrent misses for one
// fingerprint share a single synthesis call; index entries are write-once.
package synthcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/GreenCodr/voice-evolution-system/pkg/kv"
	"github.com/GreenCodr/voice-evolution-system/pkg/storage"
)

// Key identifies one synthesis request.
type Key struct {
	Model       string
	ReferenceID string
	Text        string
}

// Fingerprint returns the lowercase hex sha256 of model|reference|text.
func (k Key) Fingerprint() string {
	sum := sha256.Sum256([]byte(k.Model + "|" + k.ReferenceID + "|" + k.Text))
	return hex.EncodeToString(sum[:])
}

// ArtifactPath returns the FileStore path for a fingerprint.
func ArtifactPath(fp string) string {
	return "synth/" + fp[:2] + "/" + fp + ".wav"
}

// Entry is the index record of a cached artifact.
type Entry struct {
	Key         string    `msgpack:"key" json:"key" yaml:"key"`
	ArtifactRef string    `msgpack:"ref" json:"artifact_ref" yaml:"artifact_ref"`
	Model       string    `msgpack:"model" json:"model" yaml:"model"`
	CreatedAt   time.Time `msgpack:"created_at" json:"created_at" yaml:"created_at"`
	Size        int64     `msgpack:"size" json:"size" yaml:"size"`
}

// Result is the outcome of GetOrSynthesize.
type Result struct {
	Audio []byte
	Entry Entry
	// Hit is true when the artifact came from the cache.
	Hit bool
	// Shared is true when this caller joined another caller's synthesis.
	Shared bool
}

// SynthFunc produces the audio on a miss.
type SynthFunc func(ctx context.Context) ([]byte, error)

// Cache is a content-addressed synthesis cache.
type Cache struct {
	index  kv.Store
	blobs  storage.FileStore
	prefix kv.Key
	now    func() time.Time
	logger *slog.Logger
	group  singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithPrefix sets the index key prefix. Defaults to kv.Key{"synth"}.
func WithPrefix(p kv.Key) Option {
	return func(c *Cache) { c.prefix = p }
}

// WithClock overrides the clock used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache.
func New(index kv.Store, blobs storage.FileStore, opts ...Option) *Cache {
	c := &Cache{
		index:  index,
		blobs:  blobs,
		prefix: kv.Key{"synth"},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Lookup returns the cached artifact for k, or kv.ErrNotFound.
func (c *Cache) Lookup(ctx context.Context, k Key) (*Result, error) {
	return c.lookup(ctx, k.Fingerprint())
}

func (c *Cache) lookup(ctx context.Context, fp string) (*Result, error) {
	data, err := c.index.Get(ctx, c.prefix.Append(fp))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("synthcache: decode %s: %w", fp, err)
	}
	audio, err := storage.ReadAll(ctx, c.blobs, e.ArtifactRef)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.WarnContext(ctx, "synthcache: artifact missing, dropping entry", "key", fp, "ref", e.ArtifactRef)
		if err := c.index.Delete(ctx, c.prefix.Append(fp)); err != nil {
			return nil, fmt.Errorf("synthcache: drop %s: %w", fp, err)
		}
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("synthcache: read %s: %w", e.ArtifactRef, err)
	}
	return &Result{Audio: audio, Entry: e, Hit: true}, nil
}

// GetOrSynthesize returns the cached audio for k, calling fn at most once
// per fingerprint when nothing is cached. The synthesis outlives the
// caller's context so waiting callers still get the result; a canceled
// caller stops waiting.
func (c *Cache) GetOrSynthesize(ctx context.Context, k Key, fn SynthFunc) (*Result, error) {
	fp := k.Fingerprint()
	res, err := c.lookup(ctx, fp)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return nil, err
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fp, func() (any, error) {
		return c.fill(detached, k, fp, fn)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		out := *r.Val.(*Result)
		out.Shared = r.Shared
		return &out, nil
	}
}

func (c *Cache) fill(ctx context.Context, k Key, fp string, fn SynthFunc) (*Result, error) {
	// Another process may have filled the entry since the first lookup.
	if res, err := c.lookup(ctx, fp); err == nil {
		return res, nil
	} else if !errors.Is(err, kv.ErrNotFound) {
		return nil, err
	}

	audio, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	ref := ArtifactPath(fp)
	ok, err := c.blobs.Exists(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("synthcache: stat %s: %w", ref, err)
	}
	if !ok {
		if err := storage.WriteAll(ctx, c.blobs, ref, audio); err != nil {
			return nil, fmt.Errorf("synthcache: store %s: %w", ref, err)
		}
	}

	e := Entry{Key: fp, ArtifactRef: ref, Model: k.Model, CreatedAt: c.now().UTC(), Size: int64(len(audio))}
	data, err := msgpack.Marshal(&e)
	if err != nil {
		return nil, fmt.Errorf("synthcache: encode: %w", err)
	}
	err = kv.SetIfAbsent(ctx, c.index, c.prefix.Append(fp), data)
	if errors.Is(err, kv.ErrExists) {
		return c.lookup(ctx, fp)
	}
	if err != nil {
		return nil, fmt.Errorf("synthcache: index %s: %w", fp, err)
	}
	c.logger.InfoContext(ctx, "synthcache: stored", "key", fp, "ref", ref, "size", len(audio))
	return &Result{Audio: audio, Entry: e}, nil
}

// Purge removes entries created before cutoff together with their
// artifacts and returns how many were removed.
func (c *Cache) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	var stale []Entry
	var keys []kv.Key
	for item, err := range c.index.List(ctx, c.prefix) {
		if err != nil {
			return 0, fmt.Errorf("synthcache: purge: %w", err)
		}
		var e Entry
		if err := msgpack.Unmarshal(item.Value, &e); err != nil {
			c.logger.WarnContext(ctx, "synthcache: skip malformed entry", "key", item.Key.String(), "error", err)
			continue
		}
		if e.CreatedAt.Before(cutoff) {
			stale = append(stale, e)
			keys = append(keys, item.Key)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.index.BatchDelete(ctx, keys); err != nil {
		return 0, fmt.Errorf("synthcache: purge: %w", err)
	}
	for _, e := range stale {
		if err := c.blobs.Delete(ctx, e.ArtifactRef); err != nil {
			c.logger.WarnContext(ctx, "synthcache: artifact delete failed", "ref", e.ArtifactRef, "error", err)
		}
	}
	c.logger.InfoContext(ctx, "synthcache: purged", "entries", len(keys), "cutoff", cutoff)
	return len(keys), nil
}
