package a2a

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SSEWriter writes Server-Sent Events to an http.ResponseWriter.
// Call Init once before writing any events to set the required headers.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSEWriter wrapping the given ResponseWriter.
// The ResponseWriter must implement http.Flusher for streaming to work;
// if it does not, writes will still succeed but may be buffered.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	f, _ := w.(http.Flusher)
	return &SSEWriter{
		w:       w,
		flusher: f,
	}
}

// CanFlush reports whether events reach the client as they are written.
func (sw *SSEWriter) CanFlush() bool {
	return sw.flusher != nil
}

// Init sets the SSE response headers and flushes them to the client.
// Call this exactly once before the first write.
func (sw *SSEWriter) Init() {
	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	sw.w.WriteHeader(http.StatusOK)
	sw.flush()
}

// WriteEvent serializes the StreamEvent as an unnamed SSE data frame:
//
//	data: {json}\n\n
func (sw *SSEWriter) WriteEvent(event StreamEvent) error {
	return sw.WriteJSON("", event)
}

// WriteJSON writes v as a data frame. A non-empty name adds an "event:"
// line so browsers can dispatch on it.
func (sw *SSEWriter) WriteJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: marshal event: %w", err)
	}
	if name != "" {
		if _, err := fmt.Fprintf(sw.w, "event: %s\n", name); err != nil {
			return fmt.Errorf("sse: write event: %w", err)
		}
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("sse: write event: %w", err)
	}
	sw.flush()
	return nil
}

func (sw *SSEWriter) flush() {
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}

// ReadEvents reads SSE events from body and delivers them on the returned
// channel. The channel is closed when the body is exhausted, an unrecoverable
// read error occurs, or ctx is cancelled. The body is closed when reading
// finishes.
//
// Multiple "data:" lines within one event are joined with newlines. Comment
// lines and unknown fields are ignored. Malformed JSON produces a StreamEvent
// with Err set and reading continues.
func ReadEvents(ctx context.Context, body io.ReadCloser) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer body.Close()

		// Unblock a pending Scan when the caller goes away.
		stop := context.AfterFunc(ctx, func() { body.Close() })
		defer stop()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var dataBuf strings.Builder

		flush := func() bool {
			if dataBuf.Len() == 0 {
				return true
			}
			ok := emit(ctx, ch, dataBuf.String())
			dataBuf.Reset()
			return ok
		}

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if !scanner.Scan() {
				if err := scanner.Err(); err != nil && ctx.Err() == nil {
					flush()
					sendErr(ctx, ch, fmt.Errorf("sse: read stream: %w", err))
					return
				}
				flush()
				return
			}

			line := scanner.Text()

			switch {
			case line == "":
				if !flush() {
					return
				}

			case strings.HasPrefix(line, ":"):
				// comment

			case strings.HasPrefix(line, "data:"):
				payload := strings.TrimPrefix(line, "data:")
				payload = strings.TrimPrefix(payload, " ")
				if dataBuf.Len() > 0 {
					dataBuf.WriteByte('\n')
				}
				dataBuf.WriteString(payload)
			}
		}
	}()
	return ch
}

// emit unmarshals raw into a StreamEvent and sends it on ch. A wire-level
// error object is surfaced as Err. It returns false if ctx ended first.
func emit(ctx context.Context, ch chan<- StreamEvent, raw string) bool {
	var ev StreamEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		ev = StreamEvent{Err: fmt.Errorf("sse: unmarshal event: %w", err)}
	} else if ev.Error != nil {
		ev.Err = newRPCError(MethodStreamMessage, ev.Error)
	}
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sendErr(ctx context.Context, ch chan<- StreamEvent, err error) {
	select {
	case ch <- StreamEvent{Err: err}:
	case <-ctx.Done():
	}
}
