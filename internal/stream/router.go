package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrMalformedFrame is returned for frames whose payload cannot be decoded.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrUnknownEvent is returned for frames with an event type the router does
// not map to a message.
var ErrUnknownEvent = errors.New("unknown event type")

const (
	eventPrefix = "event:"
	dataPrefix  = "data:"

	maxLoggedPayload = 256
)

// ParsedFrame is the raw event type and payload of a frame.
type ParsedFrame struct {
	Event string
	Data  string
	// HasData is false when the frame carried no data line at all.
	HasData bool
}

// ParseFrame splits a frame into lines and extracts the event type and
// payload. The event type defaults to "message". Multiple data lines are
// joined with a newline; other lines, including ":" comments, are ignored.
func ParseFrame(f Frame) ParsedFrame {
	pf := ParsedFrame{Event: EventMessage}
	var data []string
	for line := range strings.SplitSeq(string(f), "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, eventPrefix):
			if ev := strings.TrimSpace(line[len(eventPrefix):]); ev != "" {
				pf.Event = ev
			}
		case strings.HasPrefix(line, dataPrefix):
			v := line[len(dataPrefix):]
			data = append(data, strings.TrimPrefix(v, " "))
		}
	}
	if len(data) > 0 {
		pf.HasData = true
		pf.Data = strings.Join(data, "\n")
	}
	return pf
}

// Decode converts a frame into a typed message. It returns (nil, nil) for
// frames that carry nothing to act on, such as keepalive comments.
func Decode(f Frame) (Message, error) {
	pf := ParseFrame(f)
	if !pf.HasData {
		return nil, nil
	}

	payload := []byte(pf.Data)
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: %s payload is not valid JSON", ErrMalformedFrame, pf.Event)
	}

	switch pf.Event {
	case EventMessage, EventStatus:
		var st Status
		if err := json.Unmarshal(payload, &st); err != nil {
			return nil, fmt.Errorf("%w: decode status: %w", ErrMalformedFrame, err)
		}
		if st.Progress != nil {
			p := clampPercent(*st.Progress)
			st.Progress = &p
		}
		return st, nil
	case EventFinalResult:
		if bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
			return nil, fmt.Errorf("%w: final_result payload is null", ErrMalformedFrame)
		}
		return FinalResult{Payload: json.RawMessage(bytes.TrimSpace(payload))}, nil
	case EventError:
		var body struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, fmt.Errorf("%w: decode error event: %w", ErrMalformedFrame, err)
		}
		detail := strings.TrimSpace(body.Error)
		if detail == "" {
			detail = "server reported an unspecified error"
		}
		return ErrorEvent{Detail: detail}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, pf.Event)
	}
}

// Router turns frames into messages, logging and dropping frames that cannot
// be decoded so that one bad frame never ends a stream.
type Router struct {
	logger    *slog.Logger
	onDropped func(err error)
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Logger *slog.Logger
	// OnDropped is called for every frame that was dropped. Optional.
	OnDropped func(err error)
}

// NewRouter constructs a Router.
func NewRouter(opts RouterOptions) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger, onDropped: opts.OnDropped}
}

// Route decodes one frame. ok is false when the frame yields no message.
func (r *Router) Route(ctx context.Context, f Frame) (Message, bool) {
	msg, err := Decode(f)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrUnknownEvent) {
			level = slog.LevelDebug
		}
		r.logger.Log(ctx, level, "dropping frame", "error", err, "frame", truncate(string(f), maxLoggedPayload))
		if r.onDropped != nil {
			r.onDropped(err)
		}
		return nil, false
	}
	if msg == nil {
		return nil, false
	}
	return msg, true
}

func clampPercent(p float64) float64 {
	switch {
	case p != p: // NaN
		return 0
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
