package registry

import (
	"time"

	"github.com/GreenCodr/voice-evolution-system/pkg/device"
	"github.com/GreenCodr/voice-evolution-system/pkg/versioning"
)

// Kind classifies a version by how it was produced.
type Kind string

const (
	// KindRecorded is a version backed by a real accepted sample.
	KindRecorded Kind = "RECORDED"

	// KindPredicted is a synthetic best-effort version without a usable base.
	KindPredicted Kind = "PREDICTED"

	// KindAged is derived from a recorded base by an age-delta shift.
	KindAged Kind = "AGED"
)

// Identity is one tracked subject.
type Identity struct {
	ID        string     `msgpack:"id" json:"id" yaml:"id"`
	DOB       *time.Time `msgpack:"dob,omitempty" json:"dob,omitempty" yaml:"dob,omitempty"`
	CreatedAt time.Time  `msgpack:"created_at" json:"created_at" yaml:"created_at"`

	// NextSeq is the sequence number the next version will take.
	NextSeq uint64 `msgpack:"next_seq" json:"next_seq" yaml:"next_seq"`

	// LastCreatedAt is the time of the last CREATE_VERSION decision.
	// Derived versions never touch it.
	LastCreatedAt *time.Time `msgpack:"last_created_at,omitempty" json:"last_created_at,omitempty" yaml:"last_created_at,omitempty"`
}

// Version is an immutable voice snapshot.
type Version struct {
	ID         string    `msgpack:"id" json:"id" yaml:"id"`
	Seq        uint64    `msgpack:"seq" json:"seq" yaml:"seq"`
	Kind       Kind      `msgpack:"kind" json:"kind" yaml:"kind"`
	RecordedAt time.Time `msgpack:"recorded_at" json:"recorded_at" yaml:"recorded_at"`

	// AgeAtRecording is fixed at insertion from the DOB known then. Nil
	// when the DOB was unknown.
	AgeAtRecording *int `msgpack:"age,omitempty" json:"age_at_recording,omitempty" yaml:"age_at_recording,omitempty"`

	EmbeddingRef string              `msgpack:"emb" json:"embedding_ref" yaml:"embedding_ref"`
	AudioRef     string              `msgpack:"audio,omitempty" json:"audio_ref,omitempty" yaml:"audio_ref,omitempty"`
	Confidence   float64             `msgpack:"conf" json:"confidence" yaml:"confidence"`
	Similarity   *float64            `msgpack:"sim,omitempty" json:"similarity,omitempty" yaml:"similarity,omitempty"`
	Device       *device.Fingerprint `msgpack:"dev,omitempty" json:"device,omitempty" yaml:"device,omitempty"`

	// BaseVersionID and TargetAge are set on derived versions only.
	BaseVersionID string `msgpack:"base,omitempty" json:"base_version_id,omitempty" yaml:"base_version_id,omitempty"`
	TargetAge     *int   `msgpack:"target_age,omitempty" json:"target_age,omitempty" yaml:"target_age,omitempty"`
}

// Derived reports whether v was synthesized rather than recorded.
func (v *Version) Derived() bool {
	return v.Kind != KindRecorded
}

// NewVersion describes a recorded version to append.
type NewVersion struct {
	RecordedAt   time.Time
	EmbeddingRef string
	AudioRef     string
	Confidence   float64
	Similarity   *float64
	Device       *device.Fingerprint
}

// Derivation describes a derived version to append.
type Derivation struct {
	Kind          Kind
	BaseVersionID string
	TargetAge     int
	EmbeddingRef  string
	Confidence    float64
}

// LedgerEntry is the durable record of one CREATE_VERSION decision.
// Entries are append-only and never rewritten.
type LedgerEntry struct {
	Seq        uint64                `msgpack:"seq" json:"seq" yaml:"seq"`
	VersionID  string                `msgpack:"version_id" json:"version_id" yaml:"version_id"`
	Action     versioning.Action     `msgpack:"action" json:"action" yaml:"action"`
	Confidence float64               `msgpack:"conf" json:"confidence" yaml:"confidence"`
	Similarity *float64              `msgpack:"sim,omitempty" json:"similarity,omitempty" yaml:"similarity,omitempty"`
	Reason     string                `msgpack:"reason" json:"reason" yaml:"reason"`
	Thresholds versioning.Thresholds `msgpack:"thresholds" json:"thresholds" yaml:"thresholds"`
	At         time.Time             `msgpack:"at" json:"at" yaml:"at"`
}

// AgeAt returns the age in whole years on date at, or nil when dob is
// unknown or later than at. The birthday itself counts as the new year.
func AgeAt(dob *time.Time, at time.Time) *int {
	if dob == nil {
		return nil
	}
	b, a := dob.UTC(), at.UTC()
	years := a.Year() - b.Year()
	if a.Month() < b.Month() || (a.Month() == b.Month() && a.Day() < b.Day()) {
		years--
	}
	if years < 0 {
		return nil
	}
	return &years
}
