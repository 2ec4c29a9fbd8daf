package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// dataPrefix starts every wire record.
	dataPrefix = "data: "
	// doneSentinel terminates a stream.
	doneSentinel = "[DONE]"
)

// Encoder writes frames as `data: <json>` server-sent event records.
// Safe for use by a single writer; the caller flushes between writes
// when streaming over HTTP.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one frame record. The trailing blank line is the SSE
// event separator; without it EventSource never dispatches the event.
func (e *Encoder) Encode(f Frame) error {
	body, err := Marshal(f)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "%s%s\n\n", dataPrefix, body); err != nil {
		return fmt.Errorf("stream: write frame: %w", err)
	}
	return nil
}

// Done writes the stream-terminating sentinel.
func (e *Encoder) Done() error {
	if _, err := fmt.Fprintf(e.w, "%s%s\n\n", dataPrefix, doneSentinel); err != nil {
		return fmt.Errorf("stream: write sentinel: %w", err)
	}
	return nil
}

// Decoder reads a frame stream from r. It is strictly sequential and
// single-pass: partial lines are buffered across read boundaries, and a
// payload that is not valid JSON is surfaced as a TextDelta carrying the
// raw text, so one malformed record never fails the whole stream.
type Decoder struct {
	scanner *bufio.Scanner
	done    bool
}

// ErrStreamTruncated is returned when the input ends without the
// terminating sentinel.
var ErrStreamTruncated = errors.New("stream: input ended before [DONE] sentinel")

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	// Frames carry tool arguments and results; allow records well beyond
	// the scanner's 64 KB default.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: sc}
}

// Next returns the next frame in the stream. It returns io.EOF after the
// [DONE] sentinel, and ErrStreamTruncated if the input ends without one.
// Lines without the data prefix (blank lines, SSE comments) are skipped.
func (d *Decoder) Next() (Frame, error) {
	if d.done {
		return nil, io.EOF
	}
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimPrefix(line, dataPrefix)
		if payload == doneSentinel {
			d.done = true
			return nil, io.EOF
		}
		f, err := Unmarshal([]byte(payload))
		if err != nil {
			if errors.Is(err, ErrUnknownType) {
				return nil, err
			}
			// Not parseable as JSON: deliver the raw text so the builder
			// can append it to the open text part.
			return TextDelta{Delta: payload}, nil
		}
		return f, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream: read: %w", err)
	}
	return nil, ErrStreamTruncated
}
