package commands

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/GreenCodr/voice-evolution-system/pkg/cli"
	"github.com/GreenCodr/voice-evolution-system/pkg/confidence"
	"github.com/GreenCodr/voice-evolution-system/pkg/pipeline"
	"github.com/GreenCodr/voice-evolution-system/pkg/playback"
	"github.com/GreenCodr/voice-evolution-system/pkg/registry"
	"github.com/GreenCodr/voice-evolution-system/pkg/versioning"
)

func TestParseAge(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{"42", 42, false},
		{"-1", 0, true},
		{"ten", 0, true},
	}
	for _, tt := range tests {
		got, err := parseAge(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseAge(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseAge(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEvaluationViewMarshalsLikeEvaluation(t *testing.T) {
	ev := &pipeline.Evaluation{Identity: "alice", Action: versioning.ActionNoNewVersion, Reason: "stable", Confidence: 0.9}
	want, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	got, err := json.Marshal((*evaluationView)(ev))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("view json = %s, want %s", got, want)
	}
}

func TestEvaluationCardTone(t *testing.T) {
	tests := []struct {
		action versioning.Action
		want   cli.Tone
	}{
		{versioning.ActionCreate, cli.ToneAccept},
		{versioning.ActionNoNewVersion, cli.ToneHold},
		{versioning.ActionReject, cli.ToneReject},
	}
	for _, tt := range tests {
		c := (&evaluationView{Identity: "alice", Action: tt.action}).Card()
		if c.Tone != tt.want {
			t.Errorf("%s tone = %v, want %v", tt.action, c.Tone, tt.want)
		}
		if c.Status != string(tt.action) {
			t.Errorf("status = %q, want %q", c.Status, tt.action)
		}
	}
}

func TestPlaybackCardRows(t *testing.T) {
	age20, age30 := 20, 30
	d := playback.Interpolated{
		Lower: registry.Version{ID: "v1", AgeAtRecording: &age20, Confidence: 0.8},
		Upper: registry.Version{ID: "v2", AgeAtRecording: &age30, Confidence: 0.8},
		Alpha: 0.5,
	}
	var buf bytes.Buffer
	err := cli.Output(newPlaybackView("alice", 25, d), cli.OutputOptions{Format: cli.FormatCard, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"INTERPOLATED", "v1 (age 20)", "v2 (age 30)", "0.500", "0.520 (LOW)"} {
		if !strings.Contains(out, want) {
			t.Errorf("card missing %q:\n%s", want, out)
		}
	}
}

func TestPlaybackViewExplains(t *testing.T) {
	d := playback.Recorded{Version: registry.Version{ID: "v1", Confidence: 0.9}}
	v := newPlaybackView("alice", 20, d)
	if v.Level != confidence.LevelHigh {
		t.Errorf("Level = %s, want HIGH", v.Level)
	}
	if v.Message != playback.Describe(d) || v.Card().Note != v.Message {
		t.Errorf("message = %q, card note = %q", v.Message, v.Card().Note)
	}
}

func TestIdentityCardEmptyHistory(t *testing.T) {
	v := identityView{Identity: &registry.Identity{ID: "bob"}, listed: true}
	c := v.Card()
	if c.Note != "no versions yet" {
		t.Errorf("note = %q, want %q", c.Note, "no versions yet")
	}
	if c.Rows[0].Value != "unknown" {
		t.Errorf("dob = %q, want unknown", c.Rows[0].Value)
	}
}
