package reactor

import "github.com/vinayprograms/crucible/internal/logevent"

// charsPerToken and perEventOverhead implement §4.B's deterministic
// heuristic: ~4 characters per token plus a fixed 10-token per-event
// overhead. The estimate is never zero and is monotonic — adding content
// never decreases it.
const (
	charsPerToken    = 4
	perEventOverhead = 10
)

// estimateTokensForContent estimates the token cost of a single string
// payload.
func estimateTokensForContent(content string) int64 {
	return int64(len(content)/charsPerToken) + perEventOverhead
}

// estimateTokens estimates the token cost of one LogEvent by summing its
// textual payload fields, so a richer event (e.g. a ToolCall with a long
// Content and Args) never estimates lower than a sparser one with a
// subset of those fields — preserving monotonicity across kinds.
func estimateTokens(e logevent.LogEvent) int64 {
	chars := len(e.Content) + len(e.Model) + len(e.Name) + len(e.Command) + len(e.Reason)
	for k, v := range e.Args {
		chars += len(k)
		if s, ok := v.(string); ok {
			chars += len(s)
		} else {
			chars += 8 // coarse estimate for non-string arg values
		}
	}
	return int64(chars/charsPerToken) + perEventOverhead
}
