package playback

import (
	"context"
	"errors"
	"fmt"

	"github.com/GreenCodr/voice-evolution-system/pkg/embedding"
	"github.com/GreenCodr/voice-evolution-system/pkg/storage"
)

// ErrNoDelta is returned when an age-delta blob holds no direction.
var ErrNoDelta = errors.New("playback: empty age delta")

// AgeDelta is the precomputed "older" direction in embedding space. The
// "younger" direction is its negation.
type AgeDelta struct {
	older   embedding.Vector
	younger embedding.Vector
}

// NewAgeDelta wraps an older-direction vector.
func NewAgeDelta(older embedding.Vector) (*AgeDelta, error) {
	if older.Norm() == 0 {
		return nil, ErrNoDelta
	}
	return &AgeDelta{older: older, younger: embedding.Negate(older)}, nil
}

// LoadAgeDelta reads an .f32 delta blob through r.
func LoadAgeDelta(ctx context.Context, r storage.Resolver, ref string) (*AgeDelta, error) {
	data, err := r.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("playback: load age delta: %w", err)
	}
	v, err := embedding.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("playback: load age delta: %w", err)
	}
	return NewAgeDelta(v)
}

// Dim returns the delta dimension.
func (d *AgeDelta) Dim() int { return len(d.older) }

// Apply returns normalize(base + alpha*delta) for the given direction.
func (d *AgeDelta) Apply(base embedding.Vector, dir Direction, alpha float64) (embedding.Vector, error) {
	v := d.older
	if dir == Younger {
		v = d.younger
	}
	return embedding.ApplyDelta(base, v, alpha)
}
