package audio

import (
	"bytes"
	"math"
	"testing"
)

func TestDecodeULaw_Length(t *testing.T) {
	in := []byte{0x00, 0x7F, 0xFF}
	out := DecodeULaw(in)
	if len(out) != 2*len(in) {
		t.Fatalf("len = %d, want %d", len(out), 2*len(in))
	}
}

func TestDecodeULawSample(t *testing.T) {
	if got := decodeULawSample(0xFF); got != 0 {
		t.Errorf("decode(0xFF) = %d, want 0 (silence)", got)
	}
	if got := decodeULawSample(0x00); got != -32124 {
		t.Errorf("decode(0x00) = %d, want -32124 (near full scale)", got)
	}
}

func TestULawRoundTrip_WithinQuantisation(t *testing.T) {
	// µ-law quantisation error grows with magnitude; the largest step in the
	// top segment is 1024.
	for _, s := range []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, 20000, -20000, 32124, -32124} {
		pcm := []byte{byte(s), byte(s >> 8)}
		dec := DecodeULaw(EncodeULaw(pcm))
		got := int16(dec[0]) | int16(dec[1])<<8
		if diff := int32(got) - int32(s); diff > 1024 || diff < -1024 {
			t.Errorf("round trip of %d = %d (off by %d)", s, got, diff)
		}
	}
}

func TestEncodeULaw_IgnoresTrailingOddByte(t *testing.T) {
	even := EncodeULaw([]byte{0x12, 0x34})
	odd := EncodeULaw([]byte{0x12, 0x34, 0x56})
	if !bytes.Equal(even, odd) {
		t.Error("trailing odd byte should not change output")
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v", got)
	}
	if got := RMS(make([]byte, 320)); got != 0 {
		t.Errorf("RMS(zeros) = %v", got)
	}

	// Full-scale square wave: every sample -32768.
	loud := bytes.Repeat([]byte{0x00, 0x80}, 160)
	if got := RMS(loud); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("RMS(full scale) = %v, want 1.0", got)
	}
}

func TestRMSULaw(t *testing.T) {
	silence := bytes.Repeat([]byte{0xFF}, 160)
	if got := RMSULaw(silence); got != 0 {
		t.Errorf("RMSULaw(silence) = %v", got)
	}

	loud := bytes.Repeat([]byte{0x00}, 160)
	if got := RMSULaw(loud); got < 0.9 {
		t.Errorf("RMSULaw(loud) = %v, want near full scale", got)
	}
}
