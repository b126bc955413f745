package replay

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/vinayprograms/crucible/internal/crucibleerr"
	"github.com/vinayprograms/crucible/internal/logevent"
)

// tailRenderer returns a render func suitable for Pager.RunLive: each call
// re-reads path from byte 0 and re-renders every event. ReadFile already
// tolerates a torn trailing write, so a render racing an in-flight Append
// just shows one line fewer until the next tick.
func tailRenderer(path string) func() (string, error) {
	return func() (string, error) {
		result, err := logevent.ReadFile(path)
		if err != nil {
			return "", err
		}
		return RenderSession(result.Events), nil
	}
}

// watchForWrites starts an fsnotify watch on path's directory and calls
// onChange whenever path itself is written to, until stop is closed. It is
// best-effort: RunLive's own poll interval is the fallback if the watch
// fails to start or the filesystem doesn't support notifications, so
// RunLive discards a watch error returned here rather than failing.
func watchForWrites(path string, onChange func(), stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return crucibleerr.Wrap(crucibleerr.Io, "start session file watch", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return crucibleerr.Wrap(crucibleerr.Io, "watch session directory", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name == path && (ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
					onChange()
				}
			case <-watcher.Errors:
				// surfaced to the caller only via a failed later render; the
				// live pager's poll loop is the fallback path.
			case <-stop:
				return
			}
		}
	}()
	return nil
}
