// Package synth is the speech synthesis collaborator boundary.
package synth

import (
	"context"
	"errors"

	"github.com/GreenCodr/voice-evolution-system/pkg/embedding"
)

// ErrEmptyText is returned for requests without text.
var ErrEmptyText = errors.New("synth: empty text")

// Request is one synthesis job. ReferenceAudio and Embedding describe
// the target voice; either may be empty.
type Request struct {
	Text           string
	ReferenceAudio []byte
	Embedding      embedding.Vector
}

// Synthesizer turns text into WAV audio in a reference voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)

	// Model identifies the synthesis model; it is part of the cache key.
	Model() string
}

// Func adapts a function to Synthesizer.
type Func struct {
	Name string
	Fn   func(ctx context.Context, req Request) ([]byte, error)
}

// Synthesize implements Synthesizer.
func (f Func) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}
	return f.Fn(ctx, req)
}

// Model implements Synthesizer.
func (f Func) Model() string { return f.Name }

var _ Synthesizer = Func{}
