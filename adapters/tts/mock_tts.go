package tts

import (
	"context"

	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
	"github.com/macahealth/maca-server/domain/repositories"
)

// MockTextToSpeech is a placeholder implementation for local development
// without an ElevenLabs key.
type MockTextToSpeech struct {
	logger *zap.Logger
}

// NewMockTextToSpeech creates a new mock text-to-speech service
func NewMockTextToSpeech(logger *zap.Logger) repositories.TextToSpeech {
	return &MockTextToSpeech{
		logger: logger,
	}
}

// Synthesize implements repositories.TextToSpeech
func (t *MockTextToSpeech) Synthesize(ctx context.Context, text string, opts repositories.VoiceOptions) (*entities.AudioClip, error) {
	t.logger.Info("Processing text-to-speech",
		zap.Int("textLength", len(text)),
		zap.String("voice", opts.Voice))

	// Mock audio data sized to the text so downstream chunking has
	// something to work with.
	audioSize := len(text) * 100
	mockAudio := make([]byte, audioSize)
	for i := range mockAudio {
		mockAudio[i] = byte(i % 256)
	}

	return &entities.AudioClip{
		Data:         mockAudio,
		Format:       entities.ContainerPCM,
		SampleRateHz: 24000,
		BitDepth:     16,
	}, nil
}
