package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// IMA ADPCM (DVI4) encoding of mono PCM16 into a WAV container. The
// output is fixed-bitrate (4 bits per sample, ~4:1 over PCM16), which
// keeps archived dictations compact without a native codec dependency.

const (
	adpcmFormatTag  = 0x0011 // WAVE_FORMAT_IMA_ADPCM
	adpcmBlockAlign = 256    // bytes per block, mono
	// 4-byte block header holds the seed sample, then 2 samples/byte.
	adpcmSamplesPerBlock = (adpcmBlockAlign-4)*2 + 1
)

var imaIndexTable = [16]int{
	-1, -1, -1, -1, 2, 4, 6, 8,
	-1, -1, -1, -1, 2, 4, 6, 8,
}

var imaStepTable = [89]int{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17,
	19, 21, 23, 25, 28, 31, 34, 37, 41, 45,
	50, 55, 60, 66, 73, 80, 88, 97, 107, 118,
	130, 143, 157, 173, 190, 209, 230, 253, 279, 307,
	337, 371, 408, 449, 494, 544, 598, 658, 724, 796,
	876, 963, 1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066,
	2272, 2499, 2749, 3024, 3327, 3660, 4026, 4428, 4871, 5358,
	5894, 6484, 7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794, 32767,
}

type adpcmState struct {
	predictor int
	index     int
}

func (s *adpcmState) encodeSample(sample int16) byte {
	step := imaStepTable[s.index]
	diff := int(sample) - s.predictor

	var nibble byte
	if diff < 0 {
		nibble = 8
		diff = -diff
	}

	delta := step >> 3
	if diff >= step {
		nibble |= 4
		diff -= step
		delta += step
	}
	step >>= 1
	if diff >= step {
		nibble |= 2
		diff -= step
		delta += step
	}
	step >>= 1
	if diff >= step {
		nibble |= 1
		delta += step
	}

	if nibble&8 != 0 {
		s.predictor -= delta
	} else {
		s.predictor += delta
	}
	if s.predictor > 32767 {
		s.predictor = 32767
	} else if s.predictor < -32768 {
		s.predictor = -32768
	}

	s.index += imaIndexTable[nibble]
	if s.index < 0 {
		s.index = 0
	} else if s.index > 88 {
		s.index = 88
	}

	return nibble
}

// EncodeADPCM compresses mono PCM16 samples into an IMA ADPCM WAV file.
func EncodeADPCM(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	blocks := (len(samples) + adpcmSamplesPerBlock - 1) / adpcmSamplesPerBlock
	dataSize := blocks * adpcmBlockAlign
	byteRate := sampleRate * adpcmBlockAlign / adpcmSamplesPerBlock

	buf := bytes.NewBuffer(make([]byte, 0, 60+dataSize))

	// RIFF header: fmt(20) + fact(4) + data chunks.
	riffSize := 4 + (8 + 20) + (8 + 4) + (8 + dataSize)
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(riffSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(20))
	binary.Write(buf, binary.LittleEndian, uint16(adpcmFormatTag))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(adpcmBlockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(4)) // bits per sample
	binary.Write(buf, binary.LittleEndian, uint16(2)) // cbSize
	binary.Write(buf, binary.LittleEndian, uint16(adpcmSamplesPerBlock))

	buf.WriteString("fact")
	binary.Write(buf, binary.LittleEndian, uint32(4))
	binary.Write(buf, binary.LittleEndian, uint32(len(samples)))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))

	for b := 0; b < blocks; b++ {
		start := b * adpcmSamplesPerBlock
		end := start + adpcmSamplesPerBlock
		if end > len(samples) {
			end = len(samples)
		}
		encodeBlock(buf, samples[start:end])
	}

	return buf.Bytes(), nil
}

func encodeBlock(buf *bytes.Buffer, samples []int16) {
	state := adpcmState{predictor: int(samples[0])}

	// Block header: seed sample, step index, reserved byte.
	binary.Write(buf, binary.LittleEndian, samples[0])
	buf.WriteByte(byte(state.index))
	buf.WriteByte(0)

	var pending byte
	havePending := false
	written := 0
	for _, s := range samples[1:] {
		nibble := state.encodeSample(s)
		if havePending {
			buf.WriteByte(pending | nibble<<4)
			written++
			havePending = false
		} else {
			pending = nibble
			havePending = true
		}
	}
	if havePending {
		buf.WriteByte(pending)
		written++
	}
	// Pad short trailing blocks to the fixed block size.
	for written < adpcmBlockAlign-4 {
		buf.WriteByte(0)
		written++
	}
}
