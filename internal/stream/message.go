package stream

import "encoding/json"

// Event types recognised on the wire.
const (
	EventMessage     = "message"
	EventStatus      = "status"
	EventFinalResult = "final_result"
	EventError       = "error"
)

// Message is a typed message decoded from one frame.
type Message interface {
	// Terminal reports whether the stream must stop after this message.
	Terminal() bool
	isMessage()
}

// Status reports progress. Progress is a percentage when present.
type Status struct {
	Status   string   `json:"status"`
	Progress *float64 `json:"progress,omitempty"`
}

// FinalResult carries the completed analysis payload.
type FinalResult struct {
	Payload json.RawMessage
}

// ErrorEvent carries a server-side failure description.
type ErrorEvent struct {
	Detail string
}

func (Status) Terminal() bool      { return false }
func (FinalResult) Terminal() bool { return true }
func (ErrorEvent) Terminal() bool  { return true }

func (Status) isMessage()      {}
func (FinalResult) isMessage() {}
func (ErrorEvent) isMessage()  {}
