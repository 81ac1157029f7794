package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Encoder writes frames in the same wire format the Decoder reads.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one frame with the given event type and JSON payload.
func (e *Encoder) Encode(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	return e.WriteRaw(event, string(data))
}

// WriteRaw writes one frame with a preformatted payload. Payload newlines
// become separate data lines.
func (e *Encoder) WriteRaw(event, data string) error {
	var b strings.Builder
	if event != "" && event != EventMessage {
		b.WriteString(eventPrefix)
		b.WriteByte(' ')
		b.WriteString(event)
		b.WriteByte('\n')
	}
	for line := range strings.SplitSeq(data, "\n") {
		b.WriteString(dataPrefix)
		b.WriteByte(' ')
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(e.w, b.String())
	return err
}

// Comment writes a comment frame, used as a keepalive.
func (e *Encoder) Comment(text string) error {
	_, err := io.WriteString(e.w, ": "+text+"\n\n")
	return err
}
