// Package filter validates recognized speech fragments before the engine
// treats them as real user input. Telephony recognizers hallucinate on line
// noise and echo, so every fragment passes through here first.
package filter

import (
	"strings"
	"time"
	"unicode"

	"github.com/square-key-labs/voicewire/src/call"
)

// Reason codes for acceptance verdicts. Every rejection is logged with its
// specific reason.
const (
	ReasonAccepted      = "accepted"
	ReasonWhitelisted   = "whitelisted_short_token"
	ReasonEmpty         = "empty_text"
	ReasonFillerOnly    = "filler_only"
	ReasonRepeatedToken = "repeated_token"
	ReasonGarbled       = "garbled_token"
	ReasonTooShort      = "below_min_duration"
)

// Verdict is the outcome of validating one utterance.
type Verdict struct {
	Accepted bool
	Reason   string
}

// Params tunes the filter. Zero values fall back to defaults.
type Params struct {
	MinDuration time.Duration // reject bursts shorter than this
}

// shortTokenWhitelist holds short legitimate tokens (greetings and
// confirmations) that bypass duration and length checks entirely. Matching is
// exact on normalized text.
var shortTokenWhitelist = map[string]bool{
	// Hebrew
	"הלו":   true,
	"כן":    true,
	"לא":    true,
	"שלום":  true,
	"טוב":   true,
	"בסדר":  true,
	"נכון":  true,
	"אוקיי": true,
	// English
	"hello": true,
	"hi":    true,
	"yes":   true,
	"no":    true,
	"okay":  true,
	"ok":    true,
	"yeah":  true,
	"sure":  true,
}

// fillerTokens are recognizer noise that carries no content on their own.
var fillerTokens = map[string]bool{
	"אה": true, "אם": true, "אהה": true, "אממ": true,
	"uh": true, "um": true, "hmm": true, "mm": true,
	"uhh": true, "umm": true, "mhm": true, "huh": true,
}

const defaultMinDuration = 300 * time.Millisecond

// Accept validates one recognized fragment. Pure: same inputs, same verdict.
func Accept(raw string, duration time.Duration, params Params) Verdict {
	normalized := call.NormalizeText(raw)

	if normalized == "" {
		return Verdict{Accepted: false, Reason: ReasonEmpty}
	}

	// Whitelisted short tokens are always accepted, regardless of duration.
	// A callee answering with only "הלו" must reach the engine.
	if shortTokenWhitelist[normalized] {
		return Verdict{Accepted: true, Reason: ReasonWhitelisted}
	}

	tokens := strings.Fields(normalized)

	if allFiller(tokens) {
		return Verdict{Accepted: false, Reason: ReasonFillerOnly}
	}
	if repeatedToken(tokens) {
		return Verdict{Accepted: false, Reason: ReasonRepeatedToken}
	}
	if garbled(normalized, tokens) {
		return Verdict{Accepted: false, Reason: ReasonGarbled}
	}

	minDuration := params.MinDuration
	if minDuration <= 0 {
		minDuration = defaultMinDuration
	}
	if duration > 0 && duration < minDuration {
		return Verdict{Accepted: false, Reason: ReasonTooShort}
	}

	return Verdict{Accepted: true, Reason: ReasonAccepted}
}

func allFiller(tokens []string) bool {
	for _, tok := range tokens {
		if !fillerTokens[tok] {
			return false
		}
	}
	return len(tokens) > 0
}

// repeatedToken flags recognizer loops like "כן כן כן כן": one token
// repeated three or more times with nothing else.
func repeatedToken(tokens []string) bool {
	if len(tokens) < 3 {
		return false
	}
	first := tokens[0]
	for _, tok := range tokens[1:] {
		if tok != first {
			return false
		}
	}
	return true
}

// garbled flags fragments that cannot be speech: a single token with no
// letters, or one absurdly long unbroken token (recognizer byte salad).
func garbled(normalized string, tokens []string) bool {
	hasLetter := false
	for _, r := range normalized {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return true
	}
	if len(tokens) == 1 && len([]rune(tokens[0])) > 30 {
		return true
	}
	return false
}
