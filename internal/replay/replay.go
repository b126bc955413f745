package replay

import (
	"github.com/vinayprograms/crucible/internal/crucibleerr"
	"github.com/vinayprograms/crucible/internal/logevent"
)

// Show renders path's full event history and displays it in a static,
// scrollable pager. Intended for a session that has already finished.
func Show(path string) error {
	result, err := logevent.ReadFile(path)
	if err != nil {
		return err
	}
	if len(result.Events) == 0 {
		return crucibleerr.New(crucibleerr.NotFound, "session log has no events: "+path)
	}

	title := sessionTitle(result.Events)
	return NewPager(title).Run(RenderSession(result.Events))
}

// Follow renders path and keeps the pager's view current as the session
// (still in progress) keeps appending to it.
func Follow(path string) error {
	result, err := logevent.ReadFile(path)
	if err != nil {
		return err
	}

	title := "session (live)"
	if len(result.Events) > 0 {
		title = sessionTitle(result.Events)
	}
	return NewPager(title).RunLive(tailRenderer(path), path)
}

func sessionTitle(events []logevent.LogEvent) string {
	for _, e := range events {
		if e.Kind == logevent.KindInit {
			return e.WorkflowName
		}
	}
	return "session"
}
