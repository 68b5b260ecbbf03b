package agent

// EventType classifies a streaming event.
type EventType string

const (
	// EventThinking reports match/activation progress before text starts.
	EventThinking EventType = "thinking"
	// EventText carries a chunk of the assistant response.
	EventText EventType = "text"
	// EventError reports a turn failure. It is terminal for the turn.
	EventError EventType = "error"
	// EventDone marks the end of a streaming turn on the wire protocol.
	EventDone EventType = "done"
)

// Event is one streaming update from a chat turn.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Message string    `json:"message,omitempty"`
}
