package logevent

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/vinayprograms/crucible/internal/crucibleerr"
)

// Writer appends LogEvents to an append-only JSONL file. It is not safe for
// concurrent use by multiple writers — the owning reactor is the single
// writer for its session's file (§5).
type Writer struct {
	f *os.File
}

// OpenWriter opens (creating if absent) path for append.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, crucibleerr.Wrap(crucibleerr.Io, "open session log", err)
	}
	return &Writer{f: f}, nil
}

// Append writes one LogEvent as a line and flushes to the OS (§4.B:
// "Writes are flushed to the OS after each event"). It returns the byte
// offset the line was written at.
func (w *Writer) Append(e LogEvent) (int64, error) {
	data, err := Serialize(e)
	if err != nil {
		return 0, err
	}
	offset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, crucibleerr.Wrap(crucibleerr.Io, "seek session log", err)
	}
	if _, err := w.f.Write(append(data, '\n')); err != nil {
		return 0, crucibleerr.Wrap(crucibleerr.Io, "write session log", err)
	}
	if err := w.f.Sync(); err != nil {
		return 0, crucibleerr.Wrap(crucibleerr.Io, "flush session log", err)
	}
	return offset, nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}

// ReadResult is the outcome of reading a JSONL session log.
type ReadResult struct {
	Events []LogEvent
	// PartialOffset is the byte offset the final line starts at when that
	// line was not newline-terminated. It is also 0 when the file holds only
	// a partial line, so a 0 value alone does not mean the tail was complete.
	PartialOffset int64
	// Skipped counts lines that failed to parse; they are logged by the
	// caller and otherwise ignored (§4.B: "parse errors... are logged and
	// skipped, later lines are still parsed").
	Skipped int
}

// ReadFile reads a session's JSONL log from byte 0, reconstructing the
// in-memory event sequence. A truncated tail line is not fatal: events up
// to the last complete newline are returned and PartialOffset reports the
// byte offset of the partial line (§4.A).
func ReadFile(path string) (*ReadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ReadResult{}, nil
		}
		return nil, crucibleerr.Wrap(crucibleerr.Io, "open session log", err)
	}
	defer f.Close()

	result := &ReadResult{}
	reader := bufio.NewReader(f)
	var offset int64

	for {
		line, readErr := reader.ReadBytes('\n')
		trimmed := bytes.TrimRight(line, "\n")

		if readErr == io.EOF {
			if len(trimmed) > 0 {
				// Final line has no trailing newline: treat as partial,
				// per the "truncated tail" contract.
				result.PartialOffset = offset
			}
			break
		}
		if readErr != nil {
			return nil, crucibleerr.Wrap(crucibleerr.Io, "read session log", readErr)
		}

		lineLen := int64(len(line))
		trimmed = bytes.TrimSpace(trimmed)
		if len(trimmed) == 0 {
			offset += lineLen
			continue
		}

		e, parseErr := Parse(trimmed)
		if parseErr != nil {
			result.Skipped++
			offset += lineLen
			continue
		}
		result.Events = append(result.Events, e)
		offset += lineLen
	}

	return result, nil
}
