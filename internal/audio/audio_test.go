package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestPCM16RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	encoded := EncodePCM16(samples)
	if len(encoded) != len(samples)*BytesPerSample {
		t.Fatalf("encoded length %d, want %d", len(encoded), len(samples)*BytesPerSample)
	}

	decoded, err := DecodePCM16(encoded)
	if err != nil {
		t.Fatalf("DecodePCM16 failed: %v", err)
	}
	for i, s := range samples {
		if decoded[i] != s {
			t.Errorf("sample %d: got %d, want %d", i, decoded[i], s)
		}
	}
}

func TestDecodePCM16_OddLength(t *testing.T) {
	if _, err := DecodePCM16([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Error("expected error for odd byte count")
	}
}

func TestDuration(t *testing.T) {
	// One second of 16 kHz mono PCM16.
	if d := Duration(16000*BytesPerSample, 16000); d != time.Second {
		t.Errorf("Duration = %s, want 1s", d)
	}
	if d := Duration(0, 16000); d != 0 {
		t.Errorf("Duration of empty payload = %s, want 0", d)
	}
	if d := Duration(100, 0); d != 0 {
		t.Errorf("Duration with zero rate = %s, want 0", d)
	}
}

func TestBytesForDuration(t *testing.T) {
	if n := BytesForDuration(250*time.Millisecond, 16000); n != 4000*BytesPerSample {
		t.Errorf("BytesForDuration = %d, want %d", n, 4000*BytesPerSample)
	}
	if n := BytesForDuration(5*time.Second, 8000); n != 40000*BytesPerSample {
		t.Errorf("BytesForDuration = %d, want %d", n, 40000*BytesPerSample)
	}
}

func TestChunkDurationBounds(t *testing.T) {
	if MinChunkDuration != 200*time.Millisecond || MaxChunkDuration != 500*time.Millisecond {
		t.Errorf("chunk duration bounds %s..%s", MinChunkDuration, MaxChunkDuration)
	}
	if DefaultChunkDuration < MinChunkDuration || DefaultChunkDuration > MaxChunkDuration {
		t.Errorf("default chunk duration %s outside bounds", DefaultChunkDuration)
	}
}

func TestResample(t *testing.T) {
	in := make([]int16, 1600) // 100ms at 16 kHz
	for i := range in {
		in[i] = int16(1000 * math.Sin(2*math.Pi*float64(i)/100))
	}

	up := Resample(in, 16000, 48000)
	if len(up) != 4800 {
		t.Errorf("upsample length %d, want 4800", len(up))
	}
	down := Resample(in, 16000, 8000)
	if len(down) != 800 {
		t.Errorf("downsample length %d, want 800", len(down))
	}

	same := Resample(in, 16000, 16000)
	if len(same) != len(in) {
		t.Errorf("identity resample changed length: %d", len(same))
	}
}

func TestEncodeADPCM_Header(t *testing.T) {
	samples := make([]int16, adpcmSamplesPerBlock*2) // exactly two blocks
	for i := range samples {
		samples[i] = int16(500 * math.Sin(2*math.Pi*float64(i)/64))
	}

	out, err := EncodeADPCM(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeADPCM failed: %v", err)
	}

	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if string(out[12:16]) != "fmt " {
		t.Fatal("missing fmt chunk")
	}
	if tag := binary.LittleEndian.Uint16(out[20:22]); tag != adpcmFormatTag {
		t.Errorf("format tag 0x%04x, want 0x%04x", tag, adpcmFormatTag)
	}
	if ch := binary.LittleEndian.Uint16(out[22:24]); ch != 1 {
		t.Errorf("channels = %d, want 1", ch)
	}
	if rate := binary.LittleEndian.Uint32(out[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if ba := binary.LittleEndian.Uint16(out[32:34]); ba != adpcmBlockAlign {
		t.Errorf("block align = %d, want %d", ba, adpcmBlockAlign)
	}
	if bits := binary.LittleEndian.Uint16(out[34:36]); bits != 4 {
		t.Errorf("bits per sample = %d, want 4", bits)
	}
	if spb := binary.LittleEndian.Uint16(out[38:40]); spb != adpcmSamplesPerBlock {
		t.Errorf("samples per block = %d, want %d", spb, adpcmSamplesPerBlock)
	}

	if string(out[40:44]) != "fact" {
		t.Fatal("missing fact chunk")
	}
	if n := binary.LittleEndian.Uint32(out[48:52]); n != uint32(len(samples)) {
		t.Errorf("fact sample count = %d, want %d", n, len(samples))
	}

	if string(out[52:56]) != "data" {
		t.Fatal("missing data chunk")
	}
	dataSize := binary.LittleEndian.Uint32(out[56:60])
	if dataSize != 2*adpcmBlockAlign {
		t.Errorf("data size = %d, want %d", dataSize, 2*adpcmBlockAlign)
	}
	if len(out) != 60+int(dataSize) {
		t.Errorf("total size = %d, want %d", len(out), 60+int(dataSize))
	}
}

func TestEncodeADPCM_CompressionRatio(t *testing.T) {
	// 10 seconds of 16 kHz audio compresses to roughly a quarter.
	samples := make([]int16, 160000)
	for i := range samples {
		samples[i] = int16(3000 * math.Sin(2*math.Pi*float64(i)/50))
	}

	out, err := EncodeADPCM(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeADPCM failed: %v", err)
	}

	pcmSize := len(samples) * BytesPerSample
	if len(out) >= pcmSize/3 {
		t.Errorf("encoded %d bytes from %d PCM bytes, expected ~4:1", len(out), pcmSize)
	}
}

func TestEncodeADPCM_Errors(t *testing.T) {
	if _, err := EncodeADPCM(nil, 16000); err == nil {
		t.Error("expected error for empty samples")
	}
	if _, err := EncodeADPCM([]int16{1, 2, 3}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}
