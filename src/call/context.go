package call

// Context is the immutable per-call configuration snapshot: loaded by exactly
// one batch read when the call starts and never re-read mid-call. A richer
// prompt may replace the active instructions once (the "prompt upgrade")
// without touching this structure.
type Context struct {
	BusinessID   string
	BusinessName string
	CallerName   string
	Language     string

	// Voice and prompting
	VoiceID       string
	CompactPrompt string // instructions bound before the first response
	FullPrompt    string // optional one-time upgrade, pre-fetched before the audio loop
	GreetingText  string

	// Call control
	LeadID         string // outbound only
	MaxCallMinutes int
	ToolsEnabled   bool // mid-call tool dispatch, default off
}

// HasUpgrade reports whether a richer prompt is available for the one-time
// mid-call upgrade.
func (c Context) HasUpgrade() bool {
	return c.FullPrompt != "" && c.FullPrompt != c.CompactPrompt
}

// ContextLoader performs the single batch read that builds the Context.
// Implementations live outside the core; no per-call loop may call this
// after the call has started.
type ContextLoader interface {
	LoadContext(callID, businessID, leadID string) (Context, error)
}
