package repositories

import (
	"context"

	"github.com/macahealth/maca-server/domain/entities"
)

// VoiceOptions selects voice and output shape for synthesis.
type VoiceOptions struct {
	Voice  string `json:"voice,omitempty"`
	Format string `json:"format,omitempty"`
}

// TextToSpeech abstracts speech synthesis services. The returned clip
// declares its container format, sample rate and bit depth so downstream
// delivery can validate renderer requirements.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string, opts VoiceOptions) (*entities.AudioClip, error)
}
