// Package avatar implements the event protocol spoken to the avatar
// renderer over the transport data channel.
package avatar

import "encoding/json"

// EventType identifies a wire event. Values are part of the renderer
// contract and must not change.
type EventType string

const (
	EventSpeak          EventType = "agent.speak"
	EventSpeakEnd       EventType = "agent.speak_end"
	EventInterrupt      EventType = "agent.interrupt"
	EventStartListening EventType = "agent.start_listening"
	EventStopListening  EventType = "agent.stop_listening"
	EventKeepAlive      EventType = "session.keep_alive"
)

// Event is one JSON message on the data channel. Field names are fixed by
// the renderer contract: type, audio, event_id.
type Event struct {
	Type    EventType `json:"type"`
	Audio   string    `json:"audio,omitempty"`
	EventID string    `json:"event_id,omitempty"`
}

// Marshal encodes the event for the wire.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEvent decodes a wire payload back into an Event.
func ParseEvent(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}
