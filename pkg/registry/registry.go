// Package registry is the durable per-identity store of voice versions and
// the append-only ledger of version-creation decisions.
//
// Key layout (relative to the registry prefix, default "voice"):
//
//	{prefix}:{id}                  → msgpack Identity
//	{prefix}:{id}:v:{seq:012d}     → msgpack Version
//	{prefix}:{id}:ledger:{seq:012d} → msgpack LedgerEntry
//
// Zero-padded sequence numbers keep lexicographic order equal to
// insertion order. Every append commits the version, the ledger entry and
// the updated identity in one kv.BatchSet.
//
// Writes for one identity are serialized by a per-identity lock; Do holds
// that lock across a caller's read-decide-append sequence. Reads take no
// lock and observe either the state before or after a committed append.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/GreenCodr/voice-evolution-system/pkg/kv"
	"github.com/GreenCodr/voice-evolution-system/pkg/versioning"
)

var (
	// ErrNotFound is returned when an identity or version does not exist.
	ErrNotFound = errors.New("registry: not found")

	// ErrInvalidID is returned for empty identity IDs or IDs containing
	// ':', '/' or whitespace.
	ErrInvalidID = errors.New("registry: invalid identity id")

	// ErrInvalidBase is returned when a derivation names a base that is not
	// a recorded version of the identity.
	ErrInvalidBase = errors.New("registry: invalid base version")
)

// ValidateID checks that id is usable as a key segment.
func ValidateID(id string) error {
	if id == "" || strings.ContainsAny(id, ":/") || strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Registry stores identities and their versions in a kv.Store.
type Registry struct {
	store  kv.Store
	prefix kv.Key
	now    func() time.Time
	logger *slog.Logger
	locks  sync.Map // identity id → *sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithPrefix sets the key prefix. Defaults to kv.Key{"voice"}.
func WithPrefix(p kv.Key) Option {
	return func(r *Registry) { r.prefix = p }
}

// WithClock overrides the clock used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a Registry on store.
func New(store kv.Store, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		prefix: kv.Key{"voice"},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) identityKey(id string) kv.Key { return r.prefix.Append(id) }

func (r *Registry) versionPrefix(id string) kv.Key { return r.prefix.Append(id, "v") }

func (r *Registry) ledgerPrefix(id string) kv.Key { return r.prefix.Append(id, "ledger") }

func seqSegment(seq uint64) string { return fmt.Sprintf("%012d", seq) }

func (r *Registry) lock(id string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Do runs fn while holding id's write lock. All Tx operations inside fn
// see the effects of every previously committed append for id.
func (r *Registry) Do(ctx context.Context, id string, fn func(*Tx) error) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	mu := r.lock(id)
	mu.Lock()
	defer mu.Unlock()
	return fn(&Tx{ctx: ctx, r: r, id: id})
}

// Ensure returns the identity, creating it on first use.
func (r *Registry) Ensure(ctx context.Context, id string) (*Identity, error) {
	var ident *Identity
	err := r.Do(ctx, id, func(tx *Tx) error {
		var err error
		ident, err = tx.Identity()
		return err
	})
	return ident, err
}

// SetDOB records the date of birth. Only versions appended afterwards use
// it; stored ages are never recomputed.
func (r *Registry) SetDOB(ctx context.Context, id string, dob time.Time) (*Identity, error) {
	var ident *Identity
	err := r.Do(ctx, id, func(tx *Tx) error {
		var err error
		ident, err = tx.SetDOB(dob)
		return err
	})
	return ident, err
}

// Append adds a recorded version and its ledger entry.
func (r *Registry) Append(ctx context.Context, id string, nv NewVersion, entry LedgerEntry) (*Version, error) {
	var v *Version
	err := r.Do(ctx, id, func(tx *Tx) error {
		var err error
		v, err = tx.Append(nv, entry)
		return err
	})
	return v, err
}

// AppendDerived adds a derived version. See Tx.AppendDerived.
func (r *Registry) AppendDerived(ctx context.Context, id string, d Derivation) (*Version, error) {
	var v *Version
	err := r.Do(ctx, id, func(tx *Tx) error {
		var err error
		v, err = tx.AppendDerived(d)
		return err
	})
	return v, err
}

// Get returns the identity record.
func (r *Registry) Get(ctx context.Context, id string) (*Identity, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	return r.load(ctx, id)
}

func (r *Registry) load(ctx context.Context, id string) (*Identity, error) {
	data, err := r.store.Get(ctx, r.identityKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: identity %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get %s: %w", id, err)
	}
	var ident Identity
	if err := msgpack.Unmarshal(data, &ident); err != nil {
		return nil, fmt.Errorf("registry: decode identity %s: %w", id, err)
	}
	return &ident, nil
}

// History returns every version of id in insertion order. An unknown
// identity has an empty history.
func (r *Registry) History(ctx context.Context, id string) ([]Version, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	var out []Version
	for e, err := range r.store.List(ctx, r.versionPrefix(id)) {
		if err != nil {
			return nil, fmt.Errorf("registry: history %s: %w", id, err)
		}
		var v Version
		if err := msgpack.Unmarshal(e.Value, &v); err != nil {
			r.logger.WarnContext(ctx, "registry: skip malformed version", "identity", id, "key", e.Key.String(), "error", err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Recorded filters history down to recorded versions.
func Recorded(history []Version) []Version {
	out := make([]Version, 0, len(history))
	for _, v := range history {
		if !v.Derived() {
			out = append(out, v)
		}
	}
	return out
}

// Latest returns the recorded version with the latest RecordedAt, the
// higher Seq winning ties. Returns ErrNotFound when there is none.
func (r *Registry) Latest(ctx context.Context, id string) (*Version, error) {
	h, err := r.History(ctx, id)
	if err != nil {
		return nil, err
	}
	return latest(id, Recorded(h))
}

func latest(id string, recorded []Version) (*Version, error) {
	if len(recorded) == 0 {
		return nil, fmt.Errorf("%w: no versions for %s", ErrNotFound, id)
	}
	best := slices.MaxFunc(recorded, func(a, b Version) int {
		if c := a.RecordedAt.Compare(b.RecordedAt); c != 0 {
			return c
		}
		return compareSeq(a.Seq, b.Seq)
	})
	return &best, nil
}

func compareSeq(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Ledger returns the creation ledger of id in order.
func (r *Registry) Ledger(ctx context.Context, id string) ([]LedgerEntry, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	var out []LedgerEntry
	for e, err := range r.store.List(ctx, r.ledgerPrefix(id)) {
		if err != nil {
			return nil, fmt.Errorf("registry: ledger %s: %w", id, err)
		}
		var le LedgerEntry
		if err := msgpack.Unmarshal(e.Value, &le); err != nil {
			return nil, fmt.Errorf("registry: decode ledger %s: %w", e.Key, err)
		}
		out = append(out, le)
	}
	return out, nil
}

// Tx is a view of one identity under its write lock. It is valid only
// inside the Do callback that received it.
type Tx struct {
	ctx   context.Context
	r     *Registry
	id    string
	ident *Identity
}

// ID returns the identity id.
func (tx *Tx) ID() string { return tx.id }

// Identity returns the identity record, creating it on first use.
func (tx *Tx) Identity() (*Identity, error) {
	if tx.ident != nil {
		return tx.ident, nil
	}
	ident, err := tx.r.load(tx.ctx, tx.id)
	if err == nil {
		tx.ident = ident
		return ident, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	ident = &Identity{ID: tx.id, CreatedAt: tx.r.now().UTC(), NextSeq: 1}
	data, err := msgpack.Marshal(ident)
	if err != nil {
		return nil, fmt.Errorf("registry: encode identity: %w", err)
	}
	err = kv.SetIfAbsent(tx.ctx, tx.r.store, tx.r.identityKey(tx.id), data)
	if errors.Is(err, kv.ErrExists) {
		return tx.Identity()
	}
	if err != nil {
		return nil, fmt.Errorf("registry: create %s: %w", tx.id, err)
	}
	tx.r.logger.InfoContext(tx.ctx, "registry: identity created", "identity", tx.id)
	tx.ident = ident
	return ident, nil
}

// History returns the identity's versions in insertion order.
func (tx *Tx) History() ([]Version, error) {
	return tx.r.History(tx.ctx, tx.id)
}

// SetDOB stores the date of birth, truncated to a UTC date.
func (tx *Tx) SetDOB(dob time.Time) (*Identity, error) {
	ident, err := tx.Identity()
	if err != nil {
		return nil, err
	}
	next := *ident
	d := time.Date(dob.Year(), dob.Month(), dob.Day(), 0, 0, 0, 0, time.UTC)
	next.DOB = &d
	if err := tx.commit(&next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Append persists a recorded version and its ledger entry. The age at
// recording is computed here from the current DOB. entry.At becomes the
// identity's LastCreatedAt; a zero At is replaced by the clock.
func (tx *Tx) Append(nv NewVersion, entry LedgerEntry) (*Version, error) {
	ident, err := tx.Identity()
	if err != nil {
		return nil, err
	}
	v, err := tx.newVersion(ident, KindRecorded)
	if err != nil {
		return nil, err
	}
	v.RecordedAt = nv.RecordedAt.UTC()
	v.AgeAtRecording = AgeAt(ident.DOB, nv.RecordedAt)
	v.EmbeddingRef = nv.EmbeddingRef
	v.AudioRef = nv.AudioRef
	v.Confidence = nv.Confidence
	v.Similarity = nv.Similarity
	v.Device = nv.Device

	if entry.At.IsZero() {
		entry.At = tx.r.now()
	}
	entry.At = entry.At.UTC()
	entry.Seq = v.Seq
	entry.VersionID = v.ID
	entry.Action = versioning.ActionCreate

	next := *ident
	next.NextSeq = v.Seq + 1
	next.LastCreatedAt = &entry.At

	vb, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("registry: encode version: %w", err)
	}
	lb, err := msgpack.Marshal(&entry)
	if err != nil {
		return nil, fmt.Errorf("registry: encode ledger entry: %w", err)
	}
	ib, err := msgpack.Marshal(&next)
	if err != nil {
		return nil, fmt.Errorf("registry: encode identity: %w", err)
	}
	err = tx.r.store.BatchSet(tx.ctx, []kv.Entry{
		{Key: tx.r.versionPrefix(tx.id).Append(seqSegment(v.Seq)), Value: vb},
		{Key: tx.r.ledgerPrefix(tx.id).Append(seqSegment(v.Seq)), Value: lb},
		{Key: tx.r.identityKey(tx.id), Value: ib},
	})
	if err != nil {
		return nil, fmt.Errorf("registry: append %s: %w", tx.id, err)
	}
	tx.ident = &next
	attrs := []any{"identity", tx.id, "version", v.ID, "seq", v.Seq}
	if v.AgeAtRecording != nil {
		attrs = append(attrs, "age", *v.AgeAtRecording)
	}
	tx.r.logger.InfoContext(tx.ctx, "registry: version appended", attrs...)
	return v, nil
}

// AppendDerived persists a derived version built from a recorded base.
// A derivation is stored at most once per (kind, base, target age); a
// repeat returns the existing version. Derived versions add no ledger
// entry and leave LastCreatedAt untouched.
func (tx *Tx) AppendDerived(d Derivation) (*Version, error) {
	if d.Kind == KindRecorded || d.Kind == "" {
		return nil, fmt.Errorf("registry: derivation kind %q", d.Kind)
	}
	ident, err := tx.Identity()
	if err != nil {
		return nil, err
	}
	history, err := tx.History()
	if err != nil {
		return nil, err
	}
	baseOK := d.Kind == KindPredicted && d.BaseVersionID == ""
	for i := range history {
		h := &history[i]
		if h.ID == d.BaseVersionID && !h.Derived() {
			baseOK = true
		}
		if h.Kind == d.Kind && h.BaseVersionID == d.BaseVersionID && h.TargetAge != nil && *h.TargetAge == d.TargetAge {
			return h, nil
		}
	}
	if !baseOK {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBase, d.BaseVersionID)
	}

	v, err := tx.newVersion(ident, d.Kind)
	if err != nil {
		return nil, err
	}
	target := d.TargetAge
	v.RecordedAt = tx.r.now().UTC()
	v.EmbeddingRef = d.EmbeddingRef
	v.Confidence = d.Confidence
	v.BaseVersionID = d.BaseVersionID
	v.TargetAge = &target

	next := *ident
	next.NextSeq = v.Seq + 1
	vb, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("registry: encode version: %w", err)
	}
	ib, err := msgpack.Marshal(&next)
	if err != nil {
		return nil, fmt.Errorf("registry: encode identity: %w", err)
	}
	err = tx.r.store.BatchSet(tx.ctx, []kv.Entry{
		{Key: tx.r.versionPrefix(tx.id).Append(seqSegment(v.Seq)), Value: vb},
		{Key: tx.r.identityKey(tx.id), Value: ib},
	})
	if err != nil {
		return nil, fmt.Errorf("registry: append derived %s: %w", tx.id, err)
	}
	tx.ident = &next
	tx.r.logger.InfoContext(tx.ctx, "registry: derived version appended",
		"identity", tx.id, "version", v.ID, "kind", v.Kind, "base", d.BaseVersionID, "target_age", target)
	return v, nil
}

func (tx *Tx) newVersion(ident *Identity, kind Kind) (*Version, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("registry: version id: %w", err)
	}
	return &Version{ID: u.String(), Seq: ident.NextSeq, Kind: kind}, nil
}

func (tx *Tx) commit(ident *Identity) error {
	data, err := msgpack.Marshal(ident)
	if err != nil {
		return fmt.Errorf("registry: encode identity: %w", err)
	}
	if err := tx.r.store.Set(tx.ctx, tx.r.identityKey(tx.id), data); err != nil {
		return fmt.Errorf("registry: update %s: %w", tx.id, err)
	}
	tx.ident = ident
	return nil
}
