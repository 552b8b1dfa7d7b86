package synth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/GreenCodr/voice-evolution-system/pkg/audio/wav"
	"github.com/GreenCodr/voice-evolution-system/pkg/retry"
)

const (
	defaultModel = "xtts-v2"
	defaultVoice = "alloy"
)

// OpenAIConfig configures an OpenAI-compatible speech endpoint, such as
// an XTTS server exposing /audio/speech.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// OpenAI synthesizes through the openai-go speech API. The reference
// audio travels as a base64 "speaker_wav" field and the embedding as
// "speaker_embedding", the fields XTTS-compatible servers read.
type OpenAI struct {
	client openai.Client
	model  string
	voice  string
}

var _ Synthesizer = (*OpenAI)(nil)

// NewOpenAI creates the adapter. The client's own retries are disabled;
// callers wrap Synthesize with retry.Do.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: cfg.Model, voice: cfg.Voice}
}

// Model implements Synthesizer.
func (o *OpenAI) Model() string { return o.model }

// Synthesize implements Synthesizer. Client errors other than 429 are
// marked permanent so they are not retried.
func (o *OpenAI) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}
	var extra []option.RequestOption
	if len(req.ReferenceAudio) > 0 {
		extra = append(extra, option.WithJSONSet("speaker_wav", base64.StdEncoding.EncodeToString(req.ReferenceAudio)))
	}
	if len(req.Embedding) > 0 {
		extra = append(extra, option.WithJSONSet("speaker_embedding", []float32(req.Embedding)))
	}
	resp, err := o.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          openai.SpeechModel(o.model),
		Voice:          openai.AudioSpeechNewParamsVoice(o.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	}, extra...)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(fmt.Errorf("synth: speech: %w", err))
		}
		return nil, fmt.Errorf("synth: speech: %w", err)
	}
	defer resp.Body.Close()
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("synth: read audio: %w", err)
	}
	if _, err := wav.ParseHeader(audio); err != nil {
		return nil, fmt.Errorf("synth: response is not audio: %w", err)
	}
	return audio, nil
}
