package protocol

import (
	"encoding/json"
	"testing"
)

func TestQualitySampleRate(t *testing.T) {
	cases := []struct {
		quality Quality
		rate    int
	}{
		{QualityLow, 8000},
		{QualityMedium, 16000},
		{QualityHigh, 48000},
		{Quality("bogus"), 16000},
		{Quality(""), 16000},
	}
	for _, c := range cases {
		if got := c.quality.SampleRate(); got != c.rate {
			t.Errorf("SampleRate(%q) = %d, want %d", c.quality, got, c.rate)
		}
	}
}

func TestQualityValid(t *testing.T) {
	for _, q := range []Quality{QualityLow, QualityMedium, QualityHigh} {
		if !q.Valid() {
			t.Errorf("expected %q to be valid", q)
		}
	}
	if Quality("ultra").Valid() {
		t.Error("expected 'ultra' to be invalid")
	}
}

func TestAudioFrameRoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	frame := EncodeAudioFrame(pcm)

	if frame[0] != AudioFrameTag {
		t.Fatalf("frame tag = 0x%02x, want 0x%02x", frame[0], AudioFrameTag)
	}

	decoded, err := DecodeAudioFrame(frame)
	if err != nil {
		t.Fatalf("DecodeAudioFrame failed: %v", err)
	}
	if string(decoded) != string(pcm) {
		t.Errorf("decoded payload %v, want %v", decoded, pcm)
	}
}

func TestDecodeAudioFrame_Invalid(t *testing.T) {
	if _, err := DecodeAudioFrame([]byte{AudioFrameTag}); err == nil {
		t.Error("expected error for short frame")
	}
	if _, err := DecodeAudioFrame([]byte{0x7f, 0x00, 0x00}); err == nil {
		t.Error("expected error for wrong tag")
	}
}

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"audio_chunk","session_id":"s1","chunk_id":7}`))
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if env.Type != TypeAudioChunk || env.SessionID != "s1" || env.ChunkID != 7 {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestParseEnvelope_Errors(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := ParseEnvelope([]byte(`{"session_id":"s1"}`)); err == nil {
		t.Error("expected error for missing type")
	}
}

func TestWireErrorShape(t *testing.T) {
	werr := NewWireError(CodeSessionLimitExceeded, "at capacity", false)
	data, err := json.Marshal(werr)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["type"] != TypeError {
		t.Errorf("type = %v, want %q", decoded["type"], TypeError)
	}
	if decoded["error_code"] != CodeSessionLimitExceeded {
		t.Errorf("error_code = %v", decoded["error_code"])
	}
	if decoded["recoverable"] != false {
		t.Error("expected recoverable=false")
	}
}
