// Package embedding holds the unit-norm speaker embedding type and the
// vector math the engine performs on it: cosine similarity, spherical
// interpolation between versions and age-delta application.
//
// Every vector entering the engine goes through Normalize exactly once.
// The comparison routines assume unit norm and never re-normalize.
package embedding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrZeroVector is returned when a vector has no direction.
	ErrZeroVector = errors.New("embedding: zero vector")

	// ErrDimMismatch is returned when two vectors differ in length.
	ErrDimMismatch = errors.New("embedding: dimension mismatch")
)

// Vector is a fixed-dimension float32 embedding.
type Vector []float32

// Norm returns the L2 norm of v.
func (v Vector) Norm() float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// Normalize returns a unit-length copy of v.
func Normalize(v Vector) (Vector, error) {
	n := v.Norm()
	if len(v) == 0 || n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, ErrZeroVector
	}
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}

// Cosine returns the cosine similarity of two unit vectors.
// Callers must pass vectors of equal dimension.
func Cosine(a, b Vector) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return max(-1, min(1, dot))
}

// slerpEpsilon is the angle below which two vectors are treated as equal.
const slerpEpsilon = 1e-5

// antipodalEpsilon is the distance of the cosine from -1 below which two
// vectors are treated as opposite. float32 unit vectors are only unit to
// about 1e-7, which acos turns into an angle error near 1e-3.
const antipodalEpsilon = 1e-6

// Slerp rotates from a toward b along the great circle by the angular
// fraction alpha in [0,1]. Both inputs must be unit length. When the angle
// between them is negligible a copy of a is returned. Opposite vectors have
// no unique great circle; the rotation then runs through the axis returned
// by orthogonal(a).
func Slerp(a, b Vector, alpha float64) (Vector, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrDimMismatch, len(a), len(b))
	}
	alpha = max(0, min(1, alpha))
	cos := Cosine(a, b)
	theta := math.Acos(cos)
	out := make(Vector, len(a))
	switch {
	case theta < slerpEpsilon, alpha == 0:
		copy(out, a)
		return out, nil
	case alpha == 1:
		copy(out, b)
		return out, nil
	case cos < -1+antipodalEpsilon:
		u, err := orthogonal(a)
		if err != nil {
			return nil, err
		}
		phi := alpha * math.Pi
		for i := range a {
			out[i] = float32(math.Cos(phi)*float64(a[i]) + math.Sin(phi)*float64(u[i]))
		}
		return Normalize(out)
	}
	sin := math.Sin(theta)
	w0 := math.Sin((1-alpha)*theta) / sin
	w1 := math.Sin(alpha*theta) / sin
	for i := range a {
		out[i] = float32(w0*float64(a[i]) + w1*float64(b[i]))
	}
	// Unit length up to float error; renormalize so comparisons stay exact.
	return Normalize(out)
}

// orthogonal returns a unit vector perpendicular to the unit vector a: the
// basis axis where a is smallest, with its a component removed. The basis
// axis with the lowest index wins ties.
func orthogonal(a Vector) (Vector, error) {
	if len(a) < 2 {
		return nil, fmt.Errorf("%w: no orthogonal axis in %d dimensions", ErrZeroVector, len(a))
	}
	k := 0
	for i := range a {
		if math.Abs(float64(a[i])) < math.Abs(float64(a[k])) {
			k = i
		}
	}
	u := make(Vector, len(a))
	for i := range a {
		u[i] = float32(-float64(a[k]) * float64(a[i]))
	}
	u[k] += 1
	return Normalize(u)
}

// ApplyDelta returns normalize(base + scale*delta).
func ApplyDelta(base, delta Vector, scale float64) (Vector, error) {
	if len(base) != len(delta) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrDimMismatch, len(base), len(delta))
	}
	out := make(Vector, len(base))
	for i := range base {
		out[i] = float32(float64(base[i]) + scale*float64(delta[i]))
	}
	return Normalize(out)
}

// Negate returns -v.
func Negate(v Vector) Vector {
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = -x
	}
	return out
}

// Encode serializes v as little-endian float32 values (the .f32 blob format).
func Encode(v Vector) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// Decode parses a .f32 blob.
func Decode(b []byte) (Vector, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding: invalid blob length %d", len(b))
	}
	v := make(Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
