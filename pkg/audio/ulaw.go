// Package audio provides the narrow audio toolbox the call core needs:
// G.711 µ-law ↔ 16-bit PCM conversion and RMS energy measurement.
//
// Telephony media streams carry 8 kHz µ-law; the core treats audio as opaque
// bytes everywhere except the energy detector, which decodes to PCM for the
// RMS computation only.
package audio

const ulawBias = 0x84

// ulawClip is the maximum magnitude representable before the µ-law bias is
// applied. Samples beyond it are clamped.
const ulawClip = 32635

// DecodeULaw expands µ-law bytes into little-endian 16-bit PCM.
// The output is always exactly 2*len(in) bytes.
func DecodeULaw(in []byte) []byte {
	out := make([]byte, len(in)*2)
	for i, b := range in {
		s := decodeULawSample(b)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// EncodeULaw compresses little-endian 16-bit PCM into µ-law bytes.
// A trailing odd byte, which cannot form an int16 sample, is ignored.
func EncodeULaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(pcm[i]) | int16(pcm[i+1])<<8
		out[i/2] = encodeULawSample(s)
	}
	return out
}

// decodeULawSample expands a single µ-law byte to a linear int16 sample.
func decodeULawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	sample := (int32(mantissa)<<3 + ulawBias) << exponent
	sample -= ulawBias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// encodeULawSample compresses a single linear int16 sample to µ-law.
func encodeULawSample(s int16) byte {
	sign := byte(0)
	sample := int32(s)
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > ulawClip {
		sample = ulawClip
	}
	sample += ulawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && sample&mask == 0; mask >>= 1 {
		exponent--
	}

	mantissa := byte((sample >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}
