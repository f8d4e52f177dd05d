package api

import (
	"time"

	"github.com/macahealth/maca-server/domain/entities"
)

// SessionRequest represents the request payload for issuing an avatar session
type SessionRequest struct {
	Mode string `json:"mode,omitempty"` // "custom" (default) or "managed"
}

// SessionResponse carries the issued avatar session credentials together
// with a client token for the voice-bridge websocket
type SessionResponse struct {
	Token     string                       `json:"token"`
	ExpiresAt time.Time                    `json:"expires_at"`
	Session   *entities.SessionCredentials `json:"session"`
}

// TranscribeResponse represents the response payload for speech recognition
type TranscribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// ChatRequest represents the request payload for a text chat turn
type ChatRequest struct {
	Message string                         `json:"message" validate:"required"`
	History []entities.ConversationMessage `json:"history,omitempty"`
}

// ChatResponse represents the response payload for a text chat turn
type ChatResponse struct {
	Response string `json:"response"`
}

// SynthesizeRequest represents the request payload for speech synthesis
type SynthesizeRequest struct {
	Text  string `json:"text" validate:"required"`
	Voice string `json:"voice,omitempty"`
}

// VisionRequest represents the request payload for image analysis
type VisionRequest struct {
	Image string `json:"image" validate:"required"`
}

// VisionResponse represents the response payload for image analysis
type VisionResponse struct {
	Analysis string `json:"analysis"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
