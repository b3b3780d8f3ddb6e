package audio

// Resample performs linear interpolation resampling between sample rates.
// It runs on every frame in both directions, so it stays allocation-light:
// one output slice, no floating point beyond the interpolation itself.
func Resample(input []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(input) == 0 {
		return input
	}

	ratio := float64(inputRate) / float64(outputRate)
	outputLen := int(float64(len(input)) / ratio)
	output := make([]int16, outputLen)

	for i := 0; i < outputLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx+1 < len(input) {
			sample1 := float64(input[srcIdx])
			sample2 := float64(input[srcIdx+1])
			output[i] = int16(sample1 + (sample2-sample1)*frac)
		} else if srcIdx < len(input) {
			output[i] = input[srcIdx]
		}
	}

	return output
}

// ResampleBytes resamples little-endian PCM16 bytes between sample rates.
// Returns ErrFrameAlignment for odd-length input.
func ResampleBytes(data []byte, inputRate, outputRate int) ([]byte, error) {
	if inputRate == outputRate {
		return data, nil
	}
	pcm, err := BytesToPCM(data)
	if err != nil {
		return nil, err
	}
	return PCMToBytes(Resample(pcm, inputRate, outputRate)), nil
}

// CarrierToProvider converts one 8kHz mu-law carrier frame to 24kHz PCM16
// bytes for the provider.
func CarrierToProvider(mulaw []byte) []byte {
	pcm := MulawToPCM(mulaw)
	return PCMToBytes(Resample(pcm, CarrierRate, ProviderRate))
}

// ProviderToCarrier converts 24kHz PCM16 provider bytes to 8kHz mu-law for
// the carrier. Returns ErrFrameAlignment for odd-length input.
func ProviderToCarrier(data []byte) ([]byte, error) {
	pcm, err := BytesToPCM(data)
	if err != nil {
		return nil, err
	}
	return PCMToMulaw(Resample(pcm, ProviderRate, CarrierRate)), nil
}
