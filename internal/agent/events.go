package agent

// EventType discriminates RunEvent.
type EventType string

const (
	EventToolCall       EventType = "tool_call"
	EventToolCallOutput EventType = "tool_call_output"
)

// RunEvent is one raw tool event observed while a stage ran. Arguments is
// set on call events and Output on output events. Both hold whatever the
// runtime produced: usually text, sometimes an already-decoded mapping.
type RunEvent struct {
	Type      EventType `json:"type"`
	CallID    string    `json:"call_id"`
	Name      string    `json:"name,omitempty"`
	Arguments any       `json:"arguments,omitempty"`
	Output    any       `json:"output,omitempty"`
}

// CallEvent returns a tool_call event.
func CallEvent(callID, name string, arguments any) RunEvent {
	return RunEvent{Type: EventToolCall, CallID: callID, Name: name, Arguments: arguments}
}

// OutputEvent returns a tool_call_output event.
func OutputEvent(callID string, output any) RunEvent {
	return RunEvent{Type: EventToolCallOutput, CallID: callID, Output: output}
}
