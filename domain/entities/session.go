package entities

import "errors"

// SessionState represents the lifecycle state of one avatar session.
type SessionState string

const (
	SessionStateInactive     SessionState = "inactive"
	SessionStateConnecting   SessionState = "connecting"
	SessionStateLoading      SessionState = "loading"
	SessionStateActive       SessionState = "active"
	SessionStateDisconnected SessionState = "disconnected"
	SessionStateError        SessionState = "error"
)

// ConnectionQuality is the transport-reported quality of the live connection.
type ConnectionQuality string

const (
	ConnectionQualityUnknown  ConnectionQuality = "unknown"
	ConnectionQualityGood     ConnectionQuality = "good"
	ConnectionQualityDegraded ConnectionQuality = "degraded"
	ConnectionQualityLost     ConnectionQuality = "lost"
)

// AvatarMode selects how the avatar backend is driven.
//
// In custom mode this server supplies STT/LLM/TTS itself and streams
// synthesized audio events over the transport data channel. In managed mode
// the vendor runs its own conversation stack and only session lifecycle
// calls are made.
type AvatarMode string

const (
	AvatarModeCustom  AvatarMode = "custom"
	AvatarModeManaged AvatarMode = "managed"
)

// SessionCredentials are issued once per session by the session-issuing
// collaborator and discarded on stop.
type SessionCredentials struct {
	SessionID            string `json:"session_id"`
	SessionToken         string `json:"session_token"`
	TransportURL         string `json:"livekit_url"`
	TransportClientToken string `json:"livekit_client_token"`
}

// Validate checks that all fields required to connect are present.
func (c *SessionCredentials) Validate() error {
	if c.SessionID == "" {
		return errors.New("session_id is required")
	}
	if c.SessionToken == "" {
		return errors.New("session_token is required")
	}
	if c.TransportURL == "" {
		return errors.New("livekit_url is required")
	}
	if c.TransportClientToken == "" {
		return errors.New("livekit_client_token is required")
	}
	return nil
}
