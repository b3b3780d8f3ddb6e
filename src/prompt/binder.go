// Package prompt composes the instruction set sent to the speech provider.
// Instructions are bound once before the first response; a richer prompt may
// replace them exactly once mid-call, and that upgrade is pre-fetched before
// the audio loop starts so no lookup ever happens on a hot path.
package prompt

import (
	"fmt"
	"strings"
	"sync"

	"github.com/square-key-labs/voicewire/src/call"
)

const inboundTemplate = `You are the phone receptionist for %s.
Answer in %s. Keep every reply short and conversational: this is a live phone
call, not a chat. Ask one question at a time and wait for the answer.
When scheduling, offer concrete time slots and confirm the chosen one back to
the caller before moving on.
Before ending the call, summarize anything that was agreed.`

const outboundTemplate = `You are calling on behalf of %s.
Speak in %s. Open with a short, warm greeting%s and state why you are calling.
Keep replies brief and natural. Do not schedule appointments and do not use
any tools on this call. If the person is not interested, thank them and say
goodbye politely.`

// Binder builds and holds the active instructions for one call.
type Binder struct {
	mu       sync.Mutex
	active   string
	upgrade  string
	bound    bool
	upgraded bool
}

// New prepares a binder from the immutable call context. The compact prompt
// becomes the initial instructions; the full prompt, if present, is staged as
// the one-time upgrade.
func New(ctx call.Context, direction call.Direction) *Binder {
	b := &Binder{}
	b.active = compose(ctx, direction, ctx.CompactPrompt)
	if ctx.HasUpgrade() {
		b.upgrade = compose(ctx, direction, ctx.FullPrompt)
	}
	return b
}

// Bind returns the instructions for the session configuration. It may be
// called once; later calls return the same text.
func (b *Binder) Bind() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bound = true
	return b.active
}

// Upgrade returns the richer instruction set the first time it is called,
// and ok=false on every later call or when no upgrade was staged.
func (b *Binder) Upgrade() (instructions string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.upgraded || b.upgrade == "" {
		return "", false
	}
	b.upgraded = true
	b.active = b.upgrade
	return b.upgrade, true
}

// HasUpgrade reports whether an unused upgrade is staged.
func (b *Binder) HasUpgrade() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.upgraded && b.upgrade != ""
}

func compose(ctx call.Context, direction call.Direction, businessInstructions string) string {
	language := ctx.Language
	if language == "" {
		language = "Hebrew"
	}

	var base string
	if direction == call.Inbound {
		base = fmt.Sprintf(inboundTemplate, ctx.BusinessName, language)
	} else {
		caller := ""
		if ctx.CallerName != "" {
			caller = fmt.Sprintf(" addressed to %s", ctx.CallerName)
		}
		base = fmt.Sprintf(outboundTemplate, ctx.BusinessName, language, caller)
	}

	extra := strings.TrimSpace(businessInstructions)
	if extra == "" {
		return base
	}
	return base + "\n\nBusiness instructions:\n" + extra
}
