package websocket

// MessageType defines the type of WebSocket message on the voice bridge.
type MessageType string

// Messages the browser sends.
const (
	MessageTypeSessionStart   MessageType = "session_start"
	MessageTypeSessionStop    MessageType = "session_stop"
	MessageTypeListeningStart MessageType = "listening_start"
	MessageTypeListeningEnd   MessageType = "listening_end"
	MessageTypeInterrupt      MessageType = "interrupt"
	MessageTypeReset          MessageType = "reset"
)

// Messages the server sends.
const (
	MessageTypeSessionReady MessageType = "session_ready"
	MessageTypeSessionEnded MessageType = "session_ended"
	MessageTypeStage        MessageType = "stage"
	MessageTypeTurnComplete MessageType = "turn_complete"
	MessageTypeError        MessageType = "error"
)

// ClientMessage is a control message from the browser. Binary frames carry
// the recorded audio between listening_start and listening_end; everything
// else is JSON.
type ClientMessage struct {
	Type       MessageType `json:"type"`
	SampleRate int         `json:"sample_rate,omitempty"`
	Language   string      `json:"language,omitempty"`
	Format     string      `json:"format,omitempty"`
}

// ServerMessage is a JSON message to the browser.
type ServerMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Stage     string      `json:"stage,omitempty"`
	UserText  string      `json:"user_text,omitempty"`
	ReplyText string      `json:"reply_text,omitempty"`
	Error     string      `json:"error,omitempty"`

	// Transport endpoint for the browser's own video subscription.
	TransportURL         string `json:"livekit_url,omitempty"`
	TransportClientToken string `json:"livekit_client_token,omitempty"`
}
