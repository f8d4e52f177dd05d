package repositories

import (
	"context"

	"github.com/macahealth/maca-server/domain/entities"
)

// Transcript is the result of a speech recognition call.
type Transcript struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// Transcribe converts a complete audio clip to text. The language hint
	// may be empty, in which case the service auto-detects.
	Transcribe(ctx context.Context, clip *entities.AudioClip, language string) (Transcript, error)
}

// AudioConfig represents audio configuration for streaming recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// SpeechToTextStreaming is an incremental recognition session: feed audio
// with Stream, then End to obtain the final transcript.
type SpeechToTextStreaming interface {
	Stream(data []byte) error
	End() (string, error)
}

// StreamingSpeechToText is implemented by recognizers that support
// incremental transcription in addition to whole-clip calls.
type StreamingSpeechToText interface {
	SpeechToText
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}
