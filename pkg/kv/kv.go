// Package kv is the ordered key-value layer underneath the voice registry,
// the rate limiter and the synthesis cache index.
//
// Keys are hierarchical segment lists (Key{"voice", "alice", "v", "000000000001"})
// joined with a separator byte (default ':'). Values are opaque bytes; callers
// encode them with msgpack.
//
// Two implementations are provided: Badger for durable state and Memory for
// tests and ephemeral runs. Both guarantee that BatchSet and Update are atomic.
package kv

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
)

var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("kv: not found")

	// ErrExists is returned by SetIfAbsent when the key already holds a value.
	ErrExists = errors.New("kv: key exists")
)

// Key is a hierarchical path. Segments must not contain the separator.
type Key []string

// String joins the segments with ':' for display.
func (k Key) String() string {
	return strings.Join(k, ":")
}

// Append returns a new key with the extra segments added.
func (k Key) Append(segs ...string) Key {
	out := make(Key, 0, len(k)+len(segs))
	out = append(out, k...)
	return append(out, segs...)
}

// Entry is a key-value pair returned by List and consumed by BatchSet.
type Entry struct {
	Key   Key
	Value []byte
}

// UpdateFunc computes the next value of a key from its current value.
// cur is nil and exists is false when the key is absent. Returning a nil
// value leaves the key unchanged; returning an error aborts the update.
type UpdateFunc func(cur []byte, exists bool) ([]byte, error)

// Store is a key-value store with path-based keys.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores a key-value pair, overwriting any existing value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes a key. No error if the key does not exist.
	Delete(ctx context.Context, key Key) error

	// List iterates over entries under prefix in lexicographic key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// BatchSet stores all entries in one atomic write.
	BatchSet(ctx context.Context, entries []Entry) error

	// BatchDelete removes all keys in one atomic write.
	BatchDelete(ctx context.Context, keys []Key) error

	// Update performs an atomic read-modify-write of a single key.
	// Concurrent updates of the same key are serialized.
	Update(ctx context.Context, key Key, fn UpdateFunc) error

	// Close releases any resources held by the store.
	Close() error
}

// SetIfAbsent stores value only if key has no value yet.
// Returns ErrExists when the key is already set.
func SetIfAbsent(ctx context.Context, s Store, key Key, value []byte) error {
	return s.Update(ctx, key, func(_ []byte, exists bool) ([]byte, error) {
		if exists {
			return nil, ErrExists
		}
		return value, nil
	})
}

// DefaultSeparator joins key segments when none is configured.
const DefaultSeparator byte = ':'

// Options configures key encoding.
type Options struct {
	// Separator joins key segments. Zero means DefaultSeparator.
	Separator byte
}

func (o *Options) sep() byte {
	if o != nil && o.Separator != 0 {
		return o.Separator
	}
	return DefaultSeparator
}

func (o *Options) encode(k Key) []byte {
	segs := make([][]byte, len(k))
	for i, s := range k {
		segs[i] = []byte(s)
	}
	return bytes.Join(segs, []byte{o.sep()})
}

func (o *Options) decode(b []byte) Key {
	parts := bytes.Split(b, []byte{o.sep()})
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = string(p)
	}
	return k
}

// prefixBytes returns the encoded prefix with a trailing separator so that
// "a:b" does not match "a:bc". An empty prefix scans everything.
func (o *Options) prefixBytes(prefix Key) []byte {
	if len(prefix) == 0 {
		return nil
	}
	return append(o.encode(prefix), o.sep())
}
