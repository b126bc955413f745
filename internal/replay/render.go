package replay

import (
	"fmt"
	"strings"

	"github.com/vinayprograms/crucible/internal/logevent"
)

// RenderEvent formats one LogEvent as a single styled line, colored by
// kind the same way the original per-component color scheme distinguished
// tool calls, security prompts, bash execution, and sub-agent activity.
func RenderEvent(seq int, e logevent.LogEvent) string {
	ts := timeStyle.Render(e.Ts.Format("15:04:05.000"))
	seqCol := seqStyle.Render(fmt.Sprintf("#%d", seq))

	var body string
	switch e.Kind {
	case logevent.KindInit:
		body = titleStyle.Render("session started") + " " + labelStyle.Render(e.WorkflowName)
	case logevent.KindSystem:
		body = flowStyle.Render("[system] ") + valueStyle.Render(truncateForDisplay(e.Content))
	case logevent.KindUser:
		body = flowStyle.Render("[user] ") + valueStyle.Render(truncateForDisplay(e.Content))
	case logevent.KindAssistant:
		body = flowStyle.Render("[assistant] ") + valueStyle.Render(truncateForDisplay(e.Content))
		if e.Model != "" {
			body += " " + dimStyle.Render("("+e.Model+")")
		}
	case logevent.KindThinking:
		body = dimStyle.Render("[thinking] " + truncateForDisplay(e.Content))
	case logevent.KindToolCall:
		body = toolStyle.Render(fmt.Sprintf("[tool_call] %s(%s)", e.Name, e.ID))
	case logevent.KindPermission:
		verdict := errorStyle.Render("denied")
		if e.Granted {
			verdict = successStyle.Render("granted")
		}
		body = securityStyle.Render("[permission] ") + verdict + " " + dimStyle.Render(e.Reason)
	case logevent.KindToolResult:
		status := successStyle.Render("ok")
		if e.Truncated {
			status = warnStyle.Render("truncated")
		}
		body = toolStyle.Render(fmt.Sprintf("[tool_result] %s ", e.ID)) + status
	case logevent.KindSummary:
		body = blockHeaderStyle.Render("[summary] " + truncateForDisplay(e.Content))
	case logevent.KindError:
		recov := ""
		if !e.Recoverable {
			recov = errorStyle.Bold(true).Render(" (fatal)")
		}
		body = errorStyle.Render("[error] "+truncateForDisplay(e.Content)) + recov
	case logevent.KindBashSpawned:
		body = bashStyle.Render("[bash spawned] " + e.Command)
	case logevent.KindBashCompleted:
		body = bashStyle.Render(fmt.Sprintf("[bash completed] exit=%d %dms", e.ExitCode, e.DurationMs))
	case logevent.KindBashFailed:
		body = errorStyle.Render("[bash failed] " + truncateForDisplay(e.Reason))
	case logevent.KindSubagentSpawned:
		body = subagentStyle.Render(fmt.Sprintf("[subagent spawned] %s (%s)", e.AgentName, e.AgentRole))
	case logevent.KindSubagentCompleted:
		body = subagentDimStyle.Render("[subagent completed] " + e.AgentName)
	case logevent.KindSubagentFailed:
		body = errorStyle.Render("[subagent failed] " + e.AgentName + ": " + truncateForDisplay(e.Reason))
	default:
		body = dimStyle.Render(string(e.Kind))
	}

	return fmt.Sprintf("%s %s %s", seqCol, ts, body)
}

const maxDisplayContentLen = 240

func truncateForDisplay(s string) string {
	s = strings.ReplaceAll(s, "\n", " ⏎ ")
	if len(s) <= maxDisplayContentLen {
		return s
	}
	return s[:maxDisplayContentLen] + "…"
}

// RenderSession renders every event in events, one per line, separated by
// the package's divider between distinct init boundaries (a session file
// can in principle contain more than one KindInit if it was ever merged).
func RenderSession(events []logevent.LogEvent) string {
	var b strings.Builder
	for i, e := range events {
		if i > 0 && e.Kind == logevent.KindInit {
			b.WriteString(divider + "\n")
		}
		b.WriteString(RenderEvent(i+1, e))
		b.WriteString("\n")
	}
	return b.String()
}
