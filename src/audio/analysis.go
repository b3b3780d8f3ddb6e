package audio

import (
	"encoding/binary"
	"math"
)

// RMS computes the Root Mean Square volume of little-endian PCM16 audio,
// normalized to [0.0, 1.0].
func RMS(data []byte) float64 {
	if len(data) < 2 {
		return 0.0
	}

	var sumSquares float64
	numSamples := 0

	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(data[i : i+2]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
		numSamples++
	}

	if numSamples == 0 {
		return 0.0
	}
	return math.Sqrt(sumSquares / float64(numSamples))
}

// ZeroCrossingRate computes how often the signal changes sign, per sample.
// Speech has different ZCR patterns than line noise, so the local voice
// detector requires both energy and ZCR above threshold.
func ZeroCrossingRate(data []byte) float64 {
	if len(data) < 4 {
		return 0.0
	}

	zeroCrossings := 0
	prevSign := false

	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(data[i : i+2]))
		currentSign := sample >= 0
		if i > 0 && currentSign != prevSign {
			zeroCrossings++
		}
		prevSign = currentSign
	}

	numSamples := len(data) / 2
	return float64(zeroCrossings) / float64(numSamples)
}

// HasVoice reports whether a PCM16 frame looks like live speech rather than
// silence or noise, using the configured energy and ZCR thresholds.
func HasVoice(data []byte, energyThreshold, zcrThreshold float64) bool {
	return RMS(data) > energyThreshold && ZeroCrossingRate(data) > zcrThreshold
}
