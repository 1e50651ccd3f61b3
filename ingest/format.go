package ingest

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// SampleFormat is the encoding of raw PCM samples arriving from a producer.
type SampleFormat int

const (
	// S16LE is signed 16-bit little-endian PCM.
	S16LE SampleFormat = iota
	// F32LE is 32-bit little-endian IEEE float PCM.
	F32LE
)

// BytesPerSample returns the size of one sample.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case F32LE:
		return 4
	default:
		return 2
	}
}

func (f SampleFormat) decode(b []byte) float32 {
	switch f {
	case F32LE:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	default:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
	}
}

func (f SampleFormat) String() string {
	switch f {
	case S16LE:
		return "s16le"
	case F32LE:
		return "f32le"
	}
	return fmt.Sprintf("SampleFormat(%d)", int(f))
}

// ParseSampleFormat parses "s16le" or "f32le".
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "s16le", "s16":
		return S16LE, nil
	case "f32le", "f32":
		return F32LE, nil
	}
	return 0, fmt.Errorf("unknown sample format %q", s)
}

// AppendS16LE encodes float samples in [-1, 1] as 16-bit little-endian PCM.
// Values outside the range are clipped.
func AppendS16LE(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		v := s * 32767
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(v)))
	}
	return dst
}

// AppendF32LE encodes float samples as 32-bit little-endian floats.
func AppendF32LE(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s))
	}
	return dst
}
