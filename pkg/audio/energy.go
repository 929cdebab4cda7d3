package audio

import "math"

// RMS computes the root-mean-square amplitude of little-endian 16-bit PCM,
// normalised to [0, 1]. An empty or sub-sample input returns 0.
//
// This is the only place the call core inspects audio content; everything
// else treats frames as opaque bytes.
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(pcm[i]) | int16(pcm[i+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum/float64(samples)) / 32768.0
}

// RMSULaw decodes µ-law bytes and returns their RMS amplitude. Convenience
// wrapper for the energy detector, which receives telephony frames directly.
func RMSULaw(ulaw []byte) float64 {
	return RMS(DecodeULaw(ulaw))
}
