package audio

import (
	"encoding/binary"
	"fmt"
)

// Frame geometry. One frame is 20ms of mono audio: one pacing tick.
const (
	FrameDuration   = 20 // milliseconds
	CarrierRate     = 8000
	ProviderRate    = 24000
	CarrierFrameLen = CarrierRate * FrameDuration / 1000      // 160 mu-law bytes
	CarrierPCMLen   = CarrierFrameLen * 2                     // 320 PCM16 bytes
	ProviderPCMLen  = ProviderRate * FrameDuration / 1000 * 2 // 960 PCM16 bytes
)

// ErrFrameAlignment is returned when PCM input is not 16-bit aligned.
var ErrFrameAlignment = fmt.Errorf("audio data is not frame-aligned")

const (
	mulawBias = 0x84
	mulawClip = 32635
)

var mulawDecodeTable = [256]int16{
	-32124, -31100, -30076, -29052, -28028, -27004, -25980, -24956,
	-23932, -22908, -21884, -20860, -19836, -18812, -17788, -16764,
	-15996, -15484, -14972, -14460, -13948, -13436, -12924, -12412,
	-11900, -11388, -10876, -10364, -9852, -9340, -8828, -8316,
	-7932, -7676, -7420, -7164, -6908, -6652, -6396, -6140,
	-5884, -5628, -5372, -5116, -4860, -4604, -4348, -4092,
	-3900, -3772, -3644, -3516, -3388, -3260, -3132, -3004,
	-2876, -2748, -2620, -2492, -2364, -2236, -2108, -1980,
	-1884, -1820, -1756, -1692, -1628, -1564, -1500, -1436,
	-1372, -1308, -1244, -1180, -1116, -1052, -988, -924,
	-876, -844, -812, -780, -748, -716, -684, -652,
	-620, -588, -556, -524, -492, -460, -428, -396,
	-372, -356, -340, -324, -308, -292, -276, -260,
	-244, -228, -212, -196, -180, -164, -148, -132,
	-120, -112, -104, -96, -88, -80, -72, -64,
	-56, -48, -40, -32, -24, -16, -8, 0,
	32124, 31100, 30076, 29052, 28028, 27004, 25980, 24956,
	23932, 22908, 21884, 20860, 19836, 18812, 17788, 16764,
	15996, 15484, 14972, 14460, 13948, 13436, 12924, 12412,
	11900, 11388, 10876, 10364, 9852, 9340, 8828, 8316,
	7932, 7676, 7420, 7164, 6908, 6652, 6396, 6140,
	5884, 5628, 5372, 5116, 4860, 4604, 4348, 4092,
	3900, 3772, 3644, 3516, 3388, 3260, 3132, 3004,
	2876, 2748, 2620, 2492, 2364, 2236, 2108, 1980,
	1884, 1820, 1756, 1692, 1628, 1564, 1500, 1436,
	1372, 1308, 1244, 1180, 1116, 1052, 988, 924,
	876, 844, 812, 780, 748, 716, 684, 652,
	620, 588, 556, 524, 492, 460, 428, 396,
	372, 356, 340, 324, 308, 292, 276, 260,
	244, 228, 212, 196, 180, 164, 148, 132,
	120, 112, 104, 96, 88, 80, 72, 64,
	56, 48, 40, 32, 24, 16, 8, 0,
}

// MulawToPCM converts mu-law audio to linear PCM int16 samples.
func MulawToPCM(mulaw []byte) []int16 {
	pcm := make([]int16, len(mulaw))
	for i, val := range mulaw {
		pcm[i] = mulawDecodeTable[val]
	}
	return pcm
}

// PCMToMulaw converts linear PCM int16 samples to mu-law.
func PCMToMulaw(pcm []int16) []byte {
	mulaw := make([]byte, len(pcm))
	for i, val := range pcm {
		mulaw[i] = mulawEncode(val)
	}
	return mulaw
}

// MulawToPCMBytes converts mu-law audio to little-endian PCM16 bytes.
func MulawToPCMBytes(mulaw []byte) []byte {
	return PCMToBytes(MulawToPCM(mulaw))
}

// PCMBytesToMulaw converts little-endian PCM16 bytes to mu-law.
// Returns ErrFrameAlignment for odd-length input.
func PCMBytesToMulaw(data []byte) ([]byte, error) {
	pcm, err := BytesToPCM(data)
	if err != nil {
		return nil, err
	}
	return PCMToMulaw(pcm), nil
}

// BytesToPCM converts a little-endian byte array to int16 PCM samples.
func BytesToPCM(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameAlignment, len(data))
	}
	pcm := make([]int16, len(data)/2)
	for i := 0; i < len(pcm); i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return pcm, nil
}

// PCMToBytes converts int16 PCM samples to a little-endian byte array.
func PCMToBytes(pcm []int16) []byte {
	data := make([]byte, len(pcm)*2)
	for i, val := range pcm {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(val))
	}
	return data
}

func mulawEncode(sample int16) byte {
	// Widen before negating: -(-32768) overflows int16 and skips the clip.
	pcm := int32(sample)
	sign := uint8(0)
	if pcm < 0 {
		sign = 0x80
		pcm = -pcm
	}

	if pcm > mulawClip {
		pcm = mulawClip
	}
	pcm += mulawBias

	// G.711 segment boundaries on the biased magnitude; mantissa shift is
	// segment+3.
	var exponent, mantissa uint8
	switch {
	case pcm >= 0x4000:
		exponent = 7
		mantissa = uint8((pcm >> 10) & 0x0F)
	case pcm >= 0x2000:
		exponent = 6
		mantissa = uint8((pcm >> 9) & 0x0F)
	case pcm >= 0x1000:
		exponent = 5
		mantissa = uint8((pcm >> 8) & 0x0F)
	case pcm >= 0x0800:
		exponent = 4
		mantissa = uint8((pcm >> 7) & 0x0F)
	case pcm >= 0x0400:
		exponent = 3
		mantissa = uint8((pcm >> 6) & 0x0F)
	case pcm >= 0x0200:
		exponent = 2
		mantissa = uint8((pcm >> 5) & 0x0F)
	case pcm >= 0x0100:
		exponent = 1
		mantissa = uint8((pcm >> 4) & 0x0F)
	default:
		exponent = 0
		mantissa = uint8((pcm >> 3) & 0x0F)
	}

	// Invert all bits for mu-law
	return ^(sign | (exponent << 4) | mantissa)
}
