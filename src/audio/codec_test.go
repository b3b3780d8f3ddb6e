package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulawRoundTrip(t *testing.T) {
	// Every mu-law byte must survive decode -> encode unchanged. The one
	// exception is negative zero (0x7F): both zero codes decode to linear 0,
	// which re-encodes as positive zero (0xFF).
	for b := 0; b < 256; b++ {
		pcm := MulawToPCM([]byte{byte(b)})
		back := PCMToMulaw(pcm)
		want := byte(b)
		if b == 0x7F {
			want = 0xFF
		}
		assert.Equal(t, want, back[0], "mu-law byte 0x%02X", b)
	}
}

func TestMulawEncodeQuantization(t *testing.T) {
	// Encoding then decoding an arbitrary sample must land within the
	// segment's quantization step.
	for _, sample := range []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, 30000, -30000, 32767, -32768} {
		encoded := PCMToMulaw([]int16{sample})
		decoded := MulawToPCM(encoded)

		diff := math.Abs(float64(decoded[0]) - float64(sample))
		// Top segment step is 1024; clipping adds a bit at the rails.
		assert.LessOrEqual(t, diff, 1024.0, "sample %d decoded to %d", sample, decoded[0])
	}
}

func TestBytesToPCMAlignment(t *testing.T) {
	_, err := BytesToPCM([]byte{0x01, 0x02, 0x03})
	require.ErrorIs(t, err, ErrFrameAlignment)

	pcm, err := BytesToPCM([]byte{0x34, 0x12})
	require.NoError(t, err)
	assert.Equal(t, []int16{0x1234}, pcm)
}

func TestPCMBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	data := PCMToBytes(samples)
	back, err := BytesToPCM(data)
	require.NoError(t, err)
	assert.Equal(t, samples, back)
}

func TestCarrierFrameConstants(t *testing.T) {
	// 20ms at 8kHz mono: 160 samples.
	assert.Equal(t, 160, CarrierFrameLen)
	assert.Equal(t, 320, CarrierPCMLen)
	assert.Equal(t, 960, ProviderPCMLen)
}

func TestCarrierToProviderLength(t *testing.T) {
	frame := make([]byte, CarrierFrameLen)
	out := CarrierToProvider(frame)
	assert.Equal(t, ProviderPCMLen, len(out))
}

func TestProviderToCarrierLength(t *testing.T) {
	frame := make([]byte, ProviderPCMLen)
	out, err := ProviderToCarrier(frame)
	require.NoError(t, err)
	assert.Equal(t, CarrierFrameLen, len(out))

	_, err = ProviderToCarrier(make([]byte, 961))
	require.ErrorIs(t, err, ErrFrameAlignment)
}
