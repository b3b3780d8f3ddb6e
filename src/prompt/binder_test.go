package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/square-key-labs/voicewire/src/call"
)

func testContext() call.Context {
	return call.Context{
		BusinessName:  "Mor Dental",
		Language:      "Hebrew",
		CallerName:    "Dana",
		CompactPrompt: "We are closed on Fridays.",
		FullPrompt:    "We are closed on Fridays. Parking is behind the building.",
	}
}

func TestInboundIncludesSchedulingDiscipline(t *testing.T) {
	b := New(testContext(), call.Inbound)
	text := b.Bind()

	assert.Contains(t, text, "Mor Dental")
	assert.Contains(t, text, "one question at a time")
	assert.Contains(t, text, "summarize")
	assert.Contains(t, text, "We are closed on Fridays.")
}

func TestOutboundExcludesScheduling(t *testing.T) {
	b := New(testContext(), call.Outbound)
	text := b.Bind()

	assert.Contains(t, text, "calling on behalf of Mor Dental")
	assert.Contains(t, text, "Dana")
	assert.Contains(t, text, "any tools on this call")
	assert.False(t, strings.Contains(text, "time slots"), "outbound must not carry scheduling rules")
}

func TestUpgradeIsOneShot(t *testing.T) {
	b := New(testContext(), call.Inbound)
	require.True(t, b.HasUpgrade())

	upgraded, ok := b.Upgrade()
	require.True(t, ok)
	assert.Contains(t, upgraded, "Parking is behind the building.")

	_, ok = b.Upgrade()
	assert.False(t, ok, "upgrade must fire at most once")
	assert.False(t, b.HasUpgrade())
}

func TestNoUpgradeWhenPromptsMatch(t *testing.T) {
	ctx := testContext()
	ctx.FullPrompt = ctx.CompactPrompt
	b := New(ctx, call.Inbound)

	assert.False(t, b.HasUpgrade())
	_, ok := b.Upgrade()
	assert.False(t, ok)
}
