package ratelimit

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/GreenCodr/voice-evolution-system/pkg/kv"
)

// KVStore keeps windows in a kv.Store under {prefix}:{key}. With a badger
// store the state is durable and each Hit is one transaction.
type KVStore struct {
	store  kv.Store
	prefix kv.Key
}

// NewKVStore creates a KVStore. A nil prefix defaults to kv.Key{"ratelimit"}.
func NewKVStore(store kv.Store, prefix kv.Key) *KVStore {
	if prefix == nil {
		prefix = kv.Key{"ratelimit"}
	}
	return &KVStore{store: store, prefix: prefix}
}

// Hit implements Store.
func (s *KVStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Window, bool, error) {
	var (
		w  Window
		ok bool
	)
	err := s.store.Update(ctx, s.prefix.Append(key), func(cur []byte, exists bool) ([]byte, error) {
		var prev *Window
		if exists {
			var p Window
			if err := msgpack.Unmarshal(cur, &p); err != nil {
				return nil, err
			}
			prev = &p
		}
		w, ok = next(prev, now, window, limit)
		if !ok {
			return nil, nil
		}
		return msgpack.Marshal(&w)
	})
	return w, ok, err
}

var _ Store = (*KVStore)(nil)
