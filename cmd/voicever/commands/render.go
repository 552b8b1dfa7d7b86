package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/GreenCodr/voice-evolution-system/pkg/cli"
	"github.com/GreenCodr/voice-evolution-system/pkg/confidence"
	"github.com/GreenCodr/voice-evolution-system/pkg/pipeline"
	"github.com/GreenCodr/voice-evolution-system/pkg/playback"
	"github.com/GreenCodr/voice-evolution-system/pkg/registry"
	"github.com/GreenCodr/voice-evolution-system/pkg/versioning"
)

// evaluationView marshals exactly like pipeline.Evaluation and adds a card.
type evaluationView pipeline.Evaluation

func (v *evaluationView) Card() cli.Card {
	c := cli.Card{Title: "Evaluation: " + v.Identity, Status: string(v.Action)}
	switch v.Action {
	case versioning.ActionCreate:
		c.Tone = cli.ToneAccept
	case versioning.ActionNoNewVersion:
		c.Tone = cli.ToneHold
	default:
		c.Tone = cli.ToneReject
	}
	c.Rows = append(c.Rows, cli.Row{Label: "Reason", Value: v.Reason})
	if v.Action == versioning.ActionReject && v.Score != nil {
		c.Rows = append(c.Rows, cli.Row{Label: "Score", Value: cli.FormatScore(v.Score)})
	}
	q := v.Quality
	c.Rows = append(c.Rows,
		cli.Row{Label: "Duration", Value: fmt.Sprintf("%.1fs", q.DurationSec)},
		cli.Row{Label: "SNR", Value: dB(q.SNRdB)},
	)
	if q.Accepted {
		c.Rows = append(c.Rows,
			cli.Row{Label: "Similarity", Value: cli.FormatScore(v.Similarity)},
			cli.Row{Label: "Device match", Value: strconv.FormatFloat(v.DeviceMatch, 'f', 3, 64)},
			cli.Row{Label: "Confidence", Value: strconv.FormatFloat(v.Confidence, 'f', 3, 64)},
		)
	}
	if v.Version != nil {
		c.Rows = append(c.Rows,
			cli.Row{Label: "Version", Value: fmt.Sprintf("%s (#%d)", v.Version.ID, v.Version.Seq)},
			cli.Row{Label: "Age", Value: cli.FormatAge(v.Version.AgeAtRecording)},
		)
	}
	th := v.Thresholds
	c.Note = fmt.Sprintf("hard_reject %.2f  no_change %.2f  create_above %.2f  min_device %.2f  cooldown %gd",
		th.HardRejectSimilarity, th.NoChangeSimilarity, th.CreateConfidence, th.MinDeviceMatch, th.CooldownDays)
	return c
}

func dB(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f dB", *v)
}

// playbackView is what the playback command prints.
type playbackView struct {
	Identity   string            `json:"identity" yaml:"identity"`
	TargetAge  int               `json:"target_age" yaml:"target_age"`
	Mode       playback.Mode     `json:"mode" yaml:"mode"`
	Reason     string            `json:"reason" yaml:"reason"`
	Confidence float64           `json:"confidence" yaml:"confidence"`
	Level      confidence.Level  `json:"level" yaml:"level"`
	Message    string            `json:"message" yaml:"message"`
	Detail     playback.Decision `json:"detail" yaml:"detail"`
}

func newPlaybackView(id string, age int, d playback.Decision) *playbackView {
	return &playbackView{
		Identity:   id,
		TargetAge:  age,
		Mode:       d.Mode(),
		Reason:     d.Reason(),
		Confidence: d.Confidence(),
		Level:      confidence.LevelOf(d.Confidence()),
		Message:    playback.Describe(d),
		Detail:     d,
	}
}

func (v *playbackView) Card() cli.Card {
	c := cli.Card{
		Title:  fmt.Sprintf("Playback: %s at %d", v.Identity, v.TargetAge),
		Status: string(v.Mode),
		Tone:   modeTone(v.Mode),
		Rows: []cli.Row{
			{Label: "Reason", Value: v.Reason},
			{Label: "Confidence", Value: confidenceLabel(v.Confidence)},
		},
		Note: v.Message,
	}
	c.Rows = append(c.Rows, decisionRows(v.Detail)...)
	return c
}

func confidenceLabel(c float64) string {
	return fmt.Sprintf("%.3f (%s)", c, confidence.LevelOf(c))
}

func modeTone(m playback.Mode) cli.Tone {
	switch m {
	case playback.ModeRecorded, playback.ModeInterpolated, playback.ModeAged:
		return cli.ToneAccept
	case playback.ModePredicted:
		return cli.ToneHold
	default:
		return cli.ToneReject
	}
}

func decisionRows(d playback.Decision) []cli.Row {
	switch d := d.(type) {
	case playback.Recorded:
		return []cli.Row{
			{Label: "Version", Value: versionLabel(&d.Version)},
			{Label: "Age gap", Value: strconv.Itoa(d.Gap)},
		}
	case playback.Interpolated:
		return []cli.Row{
			{Label: "Lower", Value: versionLabel(&d.Lower)},
			{Label: "Upper", Value: versionLabel(&d.Upper)},
			{Label: "Alpha", Value: strconv.FormatFloat(d.Alpha, 'f', 3, 64)},
		}
	case playback.Aged:
		return []cli.Row{
			{Label: "Base", Value: versionLabel(&d.Base)},
			{Label: "Direction", Value: string(d.Direction)},
			{Label: "Alpha", Value: strconv.FormatFloat(d.Alpha, 'f', 3, 64)},
		}
	case playback.Predicted:
		if d.Nearest != nil {
			return []cli.Row{{Label: "Nearest", Value: versionLabel(d.Nearest)}}
		}
	}
	return nil
}

func versionLabel(v *registry.Version) string {
	return fmt.Sprintf("%s (age %s)", v.ID, cli.FormatAge(v.AgeAtRecording))
}

// playView marshals exactly like pipeline.PlayResult and adds a card.
type playView pipeline.PlayResult

func (v *playView) Card() cli.Card {
	c := cli.Card{Title: "Play", Status: string(v.Mode), Tone: modeTone(v.Mode), Note: playback.Describe(v.Decision)}
	cache := "miss"
	switch {
	case v.Hit:
		cache = "hit"
	case v.Shared:
		cache = "shared"
	}
	c.Rows = []cli.Row{
		{Label: "Reason", Value: v.Reason},
		{Label: "Confidence", Value: confidenceLabel(v.Confidence)},
		{Label: "Reference", Value: v.ReferenceID},
		{Label: "Artifact", Value: v.ArtifactRef},
		{Label: "Audio", Value: cli.FormatBytes(int64(len(v.Audio)))},
		{Label: "Cache", Value: cache},
	}
	if v.Limit.Allowed {
		c.Rows = append(c.Rows, cli.Row{Label: "Remaining", Value: fmt.Sprintf("%d (reset in %ds)", v.Limit.Remaining, v.Limit.ResetInSec)})
	}
	if v.Derived != nil {
		c.Rows = append(c.Rows, cli.Row{Label: "Derived", Value: v.Derived.ID})
	}
	if v.ArtifactRef == "" {
		c.Note = "cache disabled; audio not stored"
	}
	return c
}

func (v identityView) Card() cli.Card {
	ident := v.Identity
	c := cli.Card{Title: "Identity: " + ident.ID, Tone: cli.ToneNeutral}
	dob := "unknown"
	if ident.DOB != nil {
		dob = ident.DOB.Format(time.DateOnly)
	}
	last := "never"
	if ident.LastCreatedAt != nil {
		last = ident.LastCreatedAt.Format(time.RFC3339)
	}
	c.Rows = []cli.Row{
		{Label: "DOB", Value: dob},
		{Label: "Created", Value: ident.CreatedAt.Format(time.RFC3339)},
		{Label: "Last version", Value: last},
	}
	for _, ver := range v.Versions {
		label := fmt.Sprintf("#%d %s", ver.Seq, ver.Kind)
		value := fmt.Sprintf("%s  age %s  conf %.3f", ver.RecordedAt.Format(time.DateOnly), cli.FormatAge(ver.AgeAtRecording), ver.Confidence)
		if ver.Derived() && ver.TargetAge != nil {
			value = fmt.Sprintf("from %s  target %d  conf %.3f", ver.BaseVersionID, *ver.TargetAge, ver.Confidence)
		}
		c.Rows = append(c.Rows, cli.Row{Label: label, Value: value})
	}
	if v.listed && len(v.Versions) == 0 {
		c.Note = "no versions yet"
	}
	return c
}

func (v ledgerView) Card() cli.Card {
	c := cli.Card{Title: "Ledger: " + v.Identity, Tone: cli.ToneNeutral}
	for _, e := range v.Entries {
		c.Rows = append(c.Rows, cli.Row{
			Label: fmt.Sprintf("#%d", e.Seq),
			Value: fmt.Sprintf("%s  %s  conf %.3f  sim %s  %s", e.At.Format(time.RFC3339), e.VersionID, e.Confidence, cli.FormatScore(e.Similarity), e.Reason),
		})
	}
	if len(v.Entries) == 0 {
		c.Note = "no versions created yet"
	}
	return c
}
