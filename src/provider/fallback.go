package provider

import (
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/square-key-labs/voicewire/src/audio"
	"github.com/square-key-labs/voicewire/src/logger"
)

// FallbackFrames returns the carrier-ready mu-law frames played when the
// provider cannot be reached: a recorded apology if one is configured, a
// short synthesized comfort tone otherwise. The caller pushes these through
// the normal output queue and then ends the call.
func FallbackFrames(path string) [][]byte {
	log := logger.Named("provider.fallback")

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil && len(data) >= audio.CarrierFrameLen {
			log.Info("using recorded fallback audio",
				zap.String("path", path),
				zap.Int("bytes", len(data)))
			return splitFrames(data)
		}
		if err != nil {
			log.Warn("fallback audio unreadable, using comfort tone",
				zap.String("path", path), zap.Error(err))
		}
	}

	return comfortTone()
}

// splitFrames chops raw mu-law audio into 20ms frames, padding the tail
// with mu-law silence so every frame is full length.
func splitFrames(mulaw []byte) [][]byte {
	var frames [][]byte
	for off := 0; off < len(mulaw); off += audio.CarrierFrameLen {
		end := off + audio.CarrierFrameLen
		frame := make([]byte, audio.CarrierFrameLen)
		if end > len(mulaw) {
			for i := range frame {
				frame[i] = 0xFF // mu-law silence
			}
			copy(frame, mulaw[off:])
		} else {
			copy(frame, mulaw[off:end])
		}
		frames = append(frames, frame)
	}
	return frames
}

// comfortTone synthesizes ~1.5s of a soft 440Hz beep with leading and
// trailing silence, so the caller hears something deliberate before the
// hangup instead of dead air.
func comfortTone() [][]byte {
	const (
		silenceFrames = 15 // 300ms
		toneFrames    = 45 // 900ms
		freq          = 440.0
		amplitude     = 6000.0
	)

	var frames [][]byte

	silence := make([]byte, audio.CarrierFrameLen)
	for i := range silence {
		silence[i] = 0xFF
	}
	for i := 0; i < silenceFrames; i++ {
		frames = append(frames, append([]byte(nil), silence...))
	}

	sample := 0
	for i := 0; i < toneFrames; i++ {
		pcm := make([]int16, audio.CarrierFrameLen)
		for j := range pcm {
			v := amplitude * math.Sin(2*math.Pi*freq*float64(sample)/float64(audio.CarrierRate))
			// Fade in and out over the first and last 10% of the tone.
			total := toneFrames * audio.CarrierFrameLen
			pos := i*audio.CarrierFrameLen + j
			fade := 1.0
			if edge := total / 10; pos < edge {
				fade = float64(pos) / float64(edge)
			} else if pos > total-edge {
				fade = float64(total-pos) / float64(edge)
			}
			pcm[j] = int16(v * fade)
			sample++
		}
		frames = append(frames, audio.PCMToMulaw(pcm))
	}

	for i := 0; i < silenceFrames; i++ {
		frames = append(frames, append([]byte(nil), silence...))
	}
	return frames
}
