package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all tunable parameters for the voice engine.
// Barge-in thresholds are empirically tuned against real recordings and are
// deliberately configuration, not constants.
type Config struct {
	// Carrier leg
	CarrierPort int    // WebSocket listen port for carrier media streams
	CarrierPath string // WebSocket path (e.g. "/media")

	// Provider leg
	ProviderURL    string // realtime WebSocket endpoint
	ProviderAPIKey string
	ProviderModel  string
	ProviderVoice  string

	// Provider connection retry policy
	ConnectAttempts   int
	ConnectBackoff    time.Duration // initial backoff between attempts
	ConnectBackoffCap time.Duration

	// Output pacing
	OutputQueueFrames int           // bounded outbound queue depth (~3s at 150)
	TransmitTimeout   time.Duration // single carrier write beyond this is a transport fault

	// Local VAD / barge-in
	VADEnergyThreshold float64 // RMS threshold, 0.0-1.0
	VADZeroCrossRate   float64 // ZCR threshold
	CandidateFrames    int     // consecutive voiced frames to open the mic while AI speaks
	ConfirmFrames      int     // consecutive voiced frames for a VAD-only confirmed barge-in
	PreRollFrames      int     // inbound frames retained for the pre-roll ring buffer

	// Echo guard
	EchoGuardWindow time.Duration // window after AI speech starts where echo is suspected

	// Cancel acknowledgment race
	CancelAckWait time.Duration // bounded wait for response.cancelled
	CancelAckPoll time.Duration // poll increment

	// Utterance filter
	MinUtteranceDuration time.Duration

	// Degraded path
	FallbackAudioPath string // mu-law recording played when the provider is unreachable

	// Lifecycle
	FirstSilenceWarning  time.Duration // silence before the first warning
	SecondSilenceWarning time.Duration // further silence before the second warning
	SilenceHangup        time.Duration // further silence before hangup
	DrainTimeout         time.Duration // max wait for audio buffers to drain at teardown
}

// Default returns the configuration used when no environment overrides are set.
func Default() *Config {
	return &Config{
		CarrierPort: 8080,
		CarrierPath: "/media",

		ProviderURL:   "wss://api.openai.com/v1/realtime",
		ProviderModel: "gpt-realtime",
		ProviderVoice: "alloy",

		ConnectAttempts:   3,
		ConnectBackoff:    time.Second,
		ConnectBackoffCap: 4 * time.Second,

		OutputQueueFrames: 150,
		TransmitTimeout:   300 * time.Millisecond,

		VADEnergyThreshold: 0.02,
		VADZeroCrossRate:   0.1,
		CandidateFrames:    5,  // 100ms of sustained voice
		ConfirmFrames:      25, // 500ms of sustained voice
		PreRollFrames:      15, // 300ms pre-roll

		EchoGuardWindow: 1500 * time.Millisecond,

		CancelAckWait: 300 * time.Millisecond,
		CancelAckPoll: 20 * time.Millisecond,

		MinUtteranceDuration: 300 * time.Millisecond,

		FirstSilenceWarning:  10 * time.Second,
		SecondSilenceWarning: 8 * time.Second,
		SilenceHangup:        6 * time.Second,
		DrainTimeout:         3 * time.Second,
	}
}

// Load builds a Config from defaults, a .env file if present, and environment
// variables. Missing variables keep their defaults.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := Default()

	cfg.CarrierPort = envInt("CARRIER_PORT", cfg.CarrierPort)
	cfg.CarrierPath = envString("CARRIER_PATH", cfg.CarrierPath)

	cfg.ProviderURL = envString("PROVIDER_URL", cfg.ProviderURL)
	cfg.ProviderAPIKey = envString("PROVIDER_API_KEY", cfg.ProviderAPIKey)
	cfg.ProviderModel = envString("PROVIDER_MODEL", cfg.ProviderModel)
	cfg.ProviderVoice = envString("PROVIDER_VOICE", cfg.ProviderVoice)

	cfg.ConnectAttempts = envInt("PROVIDER_CONNECT_ATTEMPTS", cfg.ConnectAttempts)
	cfg.ConnectBackoff = envDuration("PROVIDER_CONNECT_BACKOFF", cfg.ConnectBackoff)
	cfg.ConnectBackoffCap = envDuration("PROVIDER_CONNECT_BACKOFF_CAP", cfg.ConnectBackoffCap)

	cfg.OutputQueueFrames = envInt("OUTPUT_QUEUE_FRAMES", cfg.OutputQueueFrames)
	cfg.TransmitTimeout = envDuration("TRANSMIT_TIMEOUT", cfg.TransmitTimeout)

	cfg.VADEnergyThreshold = envFloat("VAD_ENERGY_THRESHOLD", cfg.VADEnergyThreshold)
	cfg.VADZeroCrossRate = envFloat("VAD_ZERO_CROSS_RATE", cfg.VADZeroCrossRate)
	cfg.CandidateFrames = envInt("BARGE_CANDIDATE_FRAMES", cfg.CandidateFrames)
	cfg.ConfirmFrames = envInt("BARGE_CONFIRM_FRAMES", cfg.ConfirmFrames)
	cfg.PreRollFrames = envInt("BARGE_PREROLL_FRAMES", cfg.PreRollFrames)

	cfg.EchoGuardWindow = envDuration("ECHO_GUARD_WINDOW", cfg.EchoGuardWindow)
	cfg.CancelAckWait = envDuration("CANCEL_ACK_WAIT", cfg.CancelAckWait)
	cfg.CancelAckPoll = envDuration("CANCEL_ACK_POLL", cfg.CancelAckPoll)

	cfg.MinUtteranceDuration = envDuration("MIN_UTTERANCE_DURATION", cfg.MinUtteranceDuration)
	cfg.FallbackAudioPath = envString("FALLBACK_AUDIO_PATH", cfg.FallbackAudioPath)

	cfg.FirstSilenceWarning = envDuration("FIRST_SILENCE_WARNING", cfg.FirstSilenceWarning)
	cfg.SecondSilenceWarning = envDuration("SECOND_SILENCE_WARNING", cfg.SecondSilenceWarning)
	cfg.SilenceHangup = envDuration("SILENCE_HANGUP", cfg.SilenceHangup)
	cfg.DrainTimeout = envDuration("DRAIN_TIMEOUT", cfg.DrainTimeout)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.CarrierPort <= 0 || c.CarrierPort > 65535 {
		return fmt.Errorf("invalid carrier port: %d", c.CarrierPort)
	}
	if c.ProviderURL == "" {
		return fmt.Errorf("provider URL is required")
	}
	if c.OutputQueueFrames <= 0 {
		return fmt.Errorf("output queue must hold at least one frame")
	}
	if c.ConnectAttempts <= 0 {
		return fmt.Errorf("need at least one provider connect attempt")
	}
	if c.CandidateFrames <= 0 || c.ConfirmFrames <= 0 {
		return fmt.Errorf("barge-in frame counts must be positive")
	}
	if c.ConfirmFrames < c.CandidateFrames {
		return fmt.Errorf("confirm frames (%d) must be >= candidate frames (%d)",
			c.ConfirmFrames, c.CandidateFrames)
	}
	if c.VADEnergyThreshold <= 0 || c.VADEnergyThreshold >= 1 {
		return fmt.Errorf("VAD energy threshold must be in (0, 1): %f", c.VADEnergyThreshold)
	}
	if c.CancelAckPoll <= 0 || c.CancelAckWait < c.CancelAckPoll {
		return fmt.Errorf("cancel ack wait must cover at least one poll increment")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
