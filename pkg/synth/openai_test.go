package synth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/GreenCodr/voice-evolution-system/pkg/audio/wav"
	"github.com/GreenCodr/voice-evolution-system/pkg/embedding"
	"github.com/GreenCodr/voice-evolution-system/pkg/retry"
)

func silence() []byte {
	return wav.EncodePCM16(wav.Clip{SampleRate: 16000, Channels: 1, Samples: make([]float32, 1600)})
}

func TestOpenAISynthesize(t *testing.T) {
	ref := []byte("reference-wav")
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(silence())
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "xtts-v2", Voice: "alice"})
	audio, err := o.Synthesize(context.Background(), Request{Text: "hello there", ReferenceAudio: ref, Embedding: embedding.Vector{0.6, 0.8}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wav.ParseHeader(audio); err != nil {
		t.Errorf("returned audio: %v", err)
	}
	if body["input"] != "hello there" || body["model"] != "xtts-v2" || body["voice"] != "alice" || body["response_format"] != "wav" {
		t.Errorf("request body = %v", body)
	}
	if body["speaker_wav"] != base64.StdEncoding.EncodeToString(ref) {
		t.Errorf("speaker_wav = %v", body["speaker_wav"])
	}
	if emb, ok := body["speaker_embedding"].([]any); !ok || len(emb) != 2 {
		t.Errorf("speaker_embedding = %v", body["speaker_embedding"])
	}
	if o.Model() != "xtts-v2" {
		t.Errorf("Model = %q", o.Model())
	}
}

func TestOpenAIClientErrorIsPermanent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad voice","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := retry.Do(context.Background(), retry.Policy{Name: "synthesis"}, func(ctx context.Context) ([]byte, error) {
		return o.Synthesize(ctx, Request{Text: "x"})
	})
	if err == nil || errors.Is(err, retry.ErrUnavailable) {
		t.Fatalf("err = %v, want a permanent client error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestOpenAIRejectsNonAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>proxy error</html>"))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{BaseURL: srv.URL})
	if _, err := o.Synthesize(context.Background(), Request{Text: "x"}); !errors.Is(err, wav.ErrNotWAV) {
		t.Errorf("err = %v, want ErrNotWAV", err)
	}
}

func TestEmptyText(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{}).Synthesize(context.Background(), Request{}); !errors.Is(err, ErrEmptyText) {
		t.Errorf("OpenAI err = %v", err)
	}
	f := Func{Name: "fake", Fn: func(context.Context, Request) ([]byte, error) { return nil, nil }}
	if _, err := f.Synthesize(context.Background(), Request{}); !errors.Is(err, ErrEmptyText) {
		t.Errorf("Func err = %v", err)
	}
}
