package stt

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
	"github.com/macahealth/maca-server/domain/repositories"
)

// MockSpeechToText is a placeholder implementation for speech recognition
type MockSpeechToText struct {
	logger *zap.Logger
}

// MockSpeechToTextStream is a mock implementation of streaming speech recognition
type MockSpeechToTextStream struct {
	logger        *zap.Logger
	audioReceived bool
	transcription string
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) repositories.StreamingSpeechToText {
	return &MockSpeechToText{
		logger: logger,
	}
}

// InitTranscribeStreaming creates a new mock streaming session
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	s.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	return &MockSpeechToTextStream{
		logger: s.logger,
	}, nil
}

// Stream implements mock streaming audio processing
func (m *MockSpeechToTextStream) Stream(data []byte) error {
	m.logger.Info("Processing mock audio chunk", zap.Int("size", len(data)))

	if len(data) > 0 {
		m.audioReceived = true
		m.transcription = mockTranscription(len(data))
	}

	return nil
}

// End returns the mock transcription result
func (m *MockSpeechToTextStream) End() (string, error) {
	m.logger.Info("Ending mock transcription stream", zap.String("result", m.transcription))

	if !m.audioReceived {
		return "", fmt.Errorf("no audio data received")
	}

	if m.transcription == "" {
		return "", fmt.Errorf("no speech detected in audio")
	}

	return m.transcription, nil
}

// Transcribe implements repositories.SpeechToText
func (s *MockSpeechToText) Transcribe(ctx context.Context, clip *entities.AudioClip, language string) (repositories.Transcript, error) {
	if clip == nil || len(clip.Data) == 0 {
		return repositories.Transcript{}, fmt.Errorf("audio clip is empty")
	}

	s.logger.Info("Processing speech-to-text",
		zap.Int("audioSize", len(clip.Data)),
		zap.String("format", string(clip.Format)))

	return repositories.Transcript{
		Text:     mockTranscription(len(clip.Data)),
		Language: language,
	}, nil
}

// mockTranscription returns different phrases based on audio size so the
// pipeline can be exercised end to end without a recognition backend.
func mockTranscription(size int) string {
	switch {
	case size > 10000:
		return "I have been having a sharp headache since yesterday morning and some dizziness."
	case size > 5000:
		return "I have a headache and a slight fever."
	case size > 1000:
		return "I have a headache."
	default:
		return "Hello."
	}
}
