package stream

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/whetstone-ai/whetstone/types"
)

// EscapeData encodes a token payload for line-delimited framing.
// SSE data fields cannot contain raw newlines, so backslashes and
// newlines are escaped; UnescapeData reverses the transformation exactly,
// byte for byte.
func EscapeData(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

// UnescapeData decodes a payload produced by EscapeData.
func UnescapeData(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// SSEWriter serializes events as Server-Sent Events. Writes are flushed
// per event so clients observe tokens as they are generated.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter wraps w. If w implements http.Flusher every event is
// flushed immediately after writing.
func NewSSEWriter(w io.Writer) *SSEWriter {
	sw := &SSEWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// PrepareHeaders sets the response headers required for SSE streaming.
func PrepareHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteEvent frames one event. Token and error data are escaped; the
// optional id field carries the speaker for attribution during rendering.
func (sw *SSEWriter) WriteEvent(ev Event) error {
	if _, err := fmt.Fprintf(sw.w, "event: %s\n", ev.Type); err != nil {
		return err
	}
	if ev.Speaker != "" {
		if _, err := fmt.Fprintf(sw.w, "id: %s\n", EscapeData(ev.Speaker)); err != nil {
			return err
		}
	}
	data := ev.Data
	if ev.Type == EventComplete {
		switch {
		case ev.Turn != nil:
			data = ev.Turn.Speaker
		case ev.ChatTurn != nil:
			data = ev.Speaker
		}
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", EscapeData(data)); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// WriteAll drains ch to the wire in order. The first write failure stops
// consumption; remaining events are discarded so the producer can finish.
func (sw *SSEWriter) WriteAll(ch <-chan Event) error {
	var writeErr error
	for ev := range ch {
		if writeErr != nil {
			continue
		}
		writeErr = sw.WriteEvent(ev)
	}
	return writeErr
}

// SSEReader decodes an SSE stream produced by SSEWriter back into events.
// Used by CLI clients and tests; decoding is symmetric with WriteEvent.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader wraps r for event-by-event reading.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{scanner: bufio.NewScanner(r)}
}

// Next returns the next event in the stream, or io.EOF when the stream
// ends cleanly.
func (sr *SSEReader) Next() (Event, error) {
	var ev Event
	seen := false
	for sr.scanner.Scan() {
		line := sr.scanner.Text()
		if line == "" {
			if seen {
				return ev, nil
			}
			continue
		}
		seen = true
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.Type = EventType(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "id: "):
			ev.Speaker = UnescapeData(strings.TrimPrefix(line, "id: "))
		case strings.HasPrefix(line, "data: "):
			ev.Data = UnescapeData(strings.TrimPrefix(line, "data: "))
		}
	}
	if err := sr.scanner.Err(); err != nil {
		return Event{}, err
	}
	if seen {
		return ev, nil
	}
	return Event{}, io.EOF
}

// Collect drains ch and returns the concatenated token text plus the
// terminal event. Convenient for synchronous callers such as the
// scheduler that do not render incrementally.
func Collect(ch <-chan Event) (string, Event) {
	var b strings.Builder
	terminal := Event{Type: EventDone, Data: DoneData}
	for ev := range ch {
		switch ev.Type {
		case EventToken:
			b.WriteString(ev.Data)
		case EventDone, EventError:
			terminal = ev
		}
	}
	return b.String(), terminal
}

// CollectError returns the structured error carried by a terminal event,
// or nil for a successful stream.
func CollectError(terminal Event) *types.Error {
	if terminal.Type != EventError {
		return nil
	}
	code := terminal.Code
	if code == "" {
		code = types.ErrInternalError
	}
	return types.NewError(code, terminal.Data)
}
