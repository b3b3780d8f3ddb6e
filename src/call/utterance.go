package call

import (
	"strings"
	"time"
)

// Utterance is one provisional speech fragment recognized by the provider.
// It is validated by the acceptance filter before becoming confirmed input.
type Utterance struct {
	Raw        string
	Normalized string
	Duration   time.Duration
	At         time.Time

	Accepted bool
	Reason   string // rejection or acceptance reason, always logged
}

// NewUtterance builds an utterance from a recognition event.
func NewUtterance(raw string, duration time.Duration) *Utterance {
	return &Utterance{
		Raw:        raw,
		Normalized: NormalizeText(raw),
		Duration:   duration,
		At:         time.Now(),
	}
}

// NormalizeText lowercases, trims, collapses whitespace and strips
// terminal punctuation, so whitelist matching is exact.
func NormalizeText(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, ".,!?;:")
	return strings.Join(strings.Fields(s), " ")
}
