package audio

import (
	"encoding/binary"
	"math"
)

// SamplesS16LE decodes a little-endian 16-bit PCM frame into samples. A
// trailing odd byte is ignored.
func SamplesS16LE(frame []byte) []int16 {
	samples := make([]int16, len(frame)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	return samples
}

// RMSLevel computes the root-mean-square energy of a 16-bit PCM frame,
// normalized to 0..1.
func RMSLevel(frame []byte) float64 {
	samples := SamplesS16LE(frame)
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// FrameDuration returns the playback duration of a frame given its encoding.
func FrameDuration(frame []byte, encoding EncodingInfo) float64 {
	byteSize := encoding.Format.ByteSize()
	if byteSize <= 0 || encoding.SampleRate <= 0 {
		return 0
	}
	return float64(len(frame)) / float64(byteSize) / float64(encoding.SampleRate)
}
