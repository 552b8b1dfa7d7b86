// Package wav reads and writes RIFF/WAVE containers.
//
// ParseHeader inspects only the chunk headers and never touches sample
// data, which is what device fingerprinting needs. Decode converts the
// data chunk to float samples for quality analysis and resampling.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrNotWAV is returned when the input is not a RIFF/WAVE container.
	ErrNotWAV = errors.New("wav: not a RIFF/WAVE container")

	// ErrUnsupported is returned for encodings Decode cannot convert.
	ErrUnsupported = errors.New("wav: unsupported encoding")
)

// Format tags from the fmt chunk.
const (
	formatPCM        = 1
	formatFloat      = 3
	formatExtensible = 0xFFFE
)

// Info is the container metadata read from the fmt and data chunk headers.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Float         bool
	ByteRate      int
	DataBytes     int
	dataOffset    int
}

// Subtype names the sample encoding, such as "PCM_16" or "FLOAT".
func (i Info) Subtype() string {
	switch {
	case i.Float && i.BitsPerSample == 64:
		return "DOUBLE"
	case i.Float:
		return "FLOAT"
	case i.BitsPerSample == 8:
		return "PCM_U8"
	default:
		return fmt.Sprintf("PCM_%d", i.BitsPerSample)
	}
}

// Duration derives the playback length from the data chunk size.
func (i Info) Duration() time.Duration {
	if i.ByteRate == 0 {
		return 0
	}
	return time.Duration(float64(i.DataBytes) / float64(i.ByteRate) * float64(time.Second))
}

// ParseHeader walks the RIFF chunk list up to the data chunk header.
// b may be truncated after the data chunk header; the declared data size
// is used for duration.
func ParseHeader(b []byte) (Info, error) {
	var info Info
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return info, ErrNotWAV
	}
	haveFmt := false
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(b) {
				return info, fmt.Errorf("wav: short fmt chunk (%d bytes)", size)
			}
			tag := binary.LittleEndian.Uint16(b[body:])
			info.Channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			info.ByteRate = int(binary.LittleEndian.Uint32(b[body+8:]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(b[body+14:]))
			if tag == formatExtensible && size >= 40 && body+26 <= len(b) {
				// First two bytes of the sub-format GUID carry the real tag.
				tag = binary.LittleEndian.Uint16(b[body+24:])
			}
			switch tag {
			case formatPCM:
			case formatFloat:
				info.Float = true
			default:
				return info, fmt.Errorf("%w: format tag %#x", ErrUnsupported, tag)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return info, errors.New("wav: data chunk before fmt chunk")
			}
			info.DataBytes = size
			info.dataOffset = body
			if info.Channels <= 0 || info.SampleRate <= 0 {
				return info, fmt.Errorf("wav: invalid fmt (rate=%d channels=%d)", info.SampleRate, info.Channels)
			}
			return info, nil
		}
		// Chunks are padded to even sizes.
		off = body + size + size%2
	}
	return info, errors.New("wav: missing data chunk")
}

// Clip is decoded audio. Samples are interleaved when Channels > 1 and lie
// in [-1, 1].
type Clip struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Frames returns the number of sample frames.
func (c Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the clip length.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(c.Frames()) / float64(c.SampleRate) * float64(time.Second))
}

// Seconds returns the clip length in seconds.
func (c Clip) Seconds() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.Frames()) / float64(c.SampleRate)
}

// Decode parses the container and converts the data chunk to floats.
func Decode(b []byte) (Clip, Info, error) {
	info, err := ParseHeader(b)
	if err != nil {
		return Clip{}, info, err
	}
	end := min(info.dataOffset+info.DataBytes, len(b))
	data := b[info.dataOffset:end]

	width := info.BitsPerSample / 8
	if width == 0 {
		return Clip{}, info, fmt.Errorf("%w: %d bits", ErrUnsupported, info.BitsPerSample)
	}
	n := len(data) / width
	n -= n % info.Channels
	out := make([]float32, n)
	for i := range n {
		s := data[i*width:]
		switch {
		case info.Float && width == 4:
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(s))
		case info.Float && width == 8:
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(s)))
		case width == 1:
			out[i] = (float32(s[0]) - 128) / 128
		case width == 2:
			out[i] = float32(int16(binary.LittleEndian.Uint16(s))) / 32768
		case width == 3:
			v := int32(s[0]) | int32(s[1])<<8 | int32(int8(s[2]))<<16
			out[i] = float32(v) / 8388608
		case width == 4:
			out[i] = float32(int32(binary.LittleEndian.Uint32(s))) / 2147483648
		default:
			return Clip{}, info, fmt.Errorf("%w: %s", ErrUnsupported, info.Subtype())
		}
	}
	return Clip{SampleRate: info.SampleRate, Channels: info.Channels, Samples: out}, info, nil
}

// EncodePCM16 writes the clip as a 16-bit PCM WAV file.
func EncodePCM16(c Clip) []byte {
	channels := max(c.Channels, 1)
	dataLen := len(c.Samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(formatPCM))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(c.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(c.SampleRate*channels*2))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels*2))
	_ = binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	for _, s := range c.Samples {
		_ = binary.Write(buf, binary.LittleEndian, toInt16(s))
	}
	return buf.Bytes()
}

func toInt16(s float32) int16 {
	switch {
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return math.MinInt16
	default:
		return int16(s * 32767)
	}
}
