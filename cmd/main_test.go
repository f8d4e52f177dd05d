package main

import (
	"testing"

	"go.uber.org/zap"

	"github.com/macahealth/maca-server/adapters/stt"
)

func TestBuildSpeechToTextProviderSelection(t *testing.T) {
	logger := zap.NewNop()

	t.Setenv("STT_PROVIDER", "google")
	if _, ok := buildSpeechToText(logger).(*stt.GoogleSpeechToText); !ok {
		t.Error("STT_PROVIDER=google did not select the Google adapter")
	}

	t.Setenv("STT_PROVIDER", "mock")
	if _, ok := buildSpeechToText(logger).(*stt.MockSpeechToText); !ok {
		t.Error("STT_PROVIDER=mock did not select the mock recognizer")
	}

	t.Setenv("STT_PROVIDER", "")
	t.Setenv("ELEVEN_LABS_API_KEY", "test-key")
	if _, ok := buildSpeechToText(logger).(*stt.ElevenLabsSTT); !ok {
		t.Error("configured ElevenLabs key did not select the ElevenLabs adapter")
	}

	t.Setenv("ELEVEN_LABS_API_KEY", "")
	if _, ok := buildSpeechToText(logger).(*stt.MockSpeechToText); !ok {
		t.Error("missing ElevenLabs key did not fall back to the mock recognizer")
	}
}
