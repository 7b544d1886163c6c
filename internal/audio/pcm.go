package audio

import (
	"fmt"
	"time"
)

const (
	// BytesPerSample is the width of one mono PCM16 sample.
	BytesPerSample = 2

	// MinChunkDuration and MaxChunkDuration bound the duration of a
	// single transmitted chunk at any negotiated sample rate.
	MinChunkDuration = 200 * time.Millisecond
	MaxChunkDuration = 500 * time.Millisecond

	// DefaultChunkDuration is the capture tick period.
	DefaultChunkDuration = 250 * time.Millisecond
)

// EncodePCM16 converts mono samples to 16-bit signed little-endian bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit signed little-endian bytes to mono samples.
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("PCM data length must be even (got %d bytes)", len(data))
	}
	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// Duration returns the playback duration of a PCM16 byte payload at the
// given sample rate.
func Duration(byteLen, sampleRate int) time.Duration {
	if sampleRate <= 0 || byteLen <= 0 {
		return 0
	}
	samples := byteLen / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// BytesForDuration returns the PCM16 byte count covering d at sampleRate.
func BytesForDuration(d time.Duration, sampleRate int) int {
	samples := int(d * time.Duration(sampleRate) / time.Second)
	return samples * BytesPerSample
}

// SamplesPerChunk returns the sample count for one chunk of duration d.
func SamplesPerChunk(d time.Duration, sampleRate int) int {
	return int(d * time.Duration(sampleRate) / time.Second)
}

// Resample converts samples between rates using linear interpolation.
// Adequate for speech; callers needing archival fidelity should capture
// at the negotiated rate directly.
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}
