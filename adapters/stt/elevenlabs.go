package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
	"github.com/macahealth/maca-server/domain/repositories"
)

const (
	defaultAPIBaseURL = "https://api.elevenlabs.io/v1"
	defaultModelID    = "scribe_v1"
)

// ElevenLabsConfig holds configuration for the ElevenLabsSTT adapter.
// Required fields:
// - APIKey: Your Eleven Labs API key
// Optional fields with defaults:
// - APIBaseURL: The base URL for the Eleven Labs API
// - ModelID: The recognition model (default: "scribe_v1")
type ElevenLabsConfig struct {
	APIKey     string
	APIBaseURL string
	ModelID    string
}

// ElevenLabsSTT implements SpeechToText using the Eleven Labs scribe API.
type ElevenLabsSTT struct {
	apiKey     string
	apiBaseURL string
	modelID    string
	client     *http.Client
	logger     *zap.Logger
}

var _ repositories.SpeechToText = (*ElevenLabsSTT)(nil)

// elevenLabsTranscription is the scribe API response body.
type elevenLabsTranscription struct {
	Text         string `json:"text"`
	LanguageCode string `json:"language_code"`
}

// NewElevenLabsSTT creates a new Eleven Labs STT instance
func NewElevenLabsSTT(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsSTT, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("eleven labs API key is required")
	}

	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}

	modelID := config.ModelID
	if modelID == "" {
		modelID = defaultModelID
	}

	return &ElevenLabsSTT{
		apiKey:     config.APIKey,
		apiBaseURL: apiBaseURL,
		modelID:    modelID,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}, nil
}

// NewElevenLabsConfigFromEnv creates an ElevenLabsConfig from environment variables
func NewElevenLabsConfigFromEnv() ElevenLabsConfig {
	return ElevenLabsConfig{
		APIKey:     os.Getenv("ELEVEN_LABS_API_KEY"),
		APIBaseURL: os.Getenv("ELEVEN_LABS_API_BASE_URL"),
		ModelID:    os.Getenv("ELEVEN_LABS_STT_MODEL_ID"),
	}
}

// Transcribe converts one complete clip to text. The clip is uploaded as a
// multipart file; an empty language means server-side auto-detection.
func (e *ElevenLabsSTT) Transcribe(ctx context.Context, clip *entities.AudioClip, language string) (repositories.Transcript, error) {
	if clip == nil || len(clip.Data) == 0 {
		return repositories.Transcript{}, fmt.Errorf("audio clip is empty")
	}

	e.logger.Info("Transcribing audio",
		zap.Int("bytes", len(clip.Data)),
		zap.String("format", string(clip.Format)),
		zap.String("language", language))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="recording.%s"`, clip.Format))
	fileHeader.Set("Content-Type", contentTypeForFormat(clip.Format))
	filePart, err := writer.CreatePart(fileHeader)
	if err != nil {
		return repositories.Transcript{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := filePart.Write(clip.Data); err != nil {
		return repositories.Transcript{}, fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := writer.WriteField("model_id", e.modelID); err != nil {
		return repositories.Transcript{}, fmt.Errorf("failed to write model_id: %w", err)
	}
	if language != "" {
		if err := writer.WriteField("language_code", language); err != nil {
			return repositories.Transcript{}, fmt.Errorf("failed to write language_code: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return repositories.Transcript{}, fmt.Errorf("failed to finalize form: %w", err)
	}

	url := e.apiBaseURL + "/speech-to-text"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return repositories.Transcript{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return repositories.Transcript{}, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		return repositories.Transcript{}, fmt.Errorf("eleven labs API returned %d: %s", resp.StatusCode, string(errorBody))
	}

	var result elevenLabsTranscription
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return repositories.Transcript{}, fmt.Errorf("failed to decode response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return repositories.Transcript{}, fmt.Errorf("empty transcription response")
	}

	detected := result.LanguageCode
	if detected == "" {
		detected = language
	}

	e.logger.Info("Transcription completed",
		zap.Int("textLength", len(text)),
		zap.String("language", detected))

	return repositories.Transcript{Text: text, Language: detected}, nil
}

func contentTypeForFormat(format entities.ContainerFormat) string {
	switch format {
	case entities.ContainerWebM:
		return "audio/webm"
	case entities.ContainerWAV:
		return "audio/wav"
	case entities.ContainerPCM:
		return "audio/pcm"
	default:
		return "application/octet-stream"
	}
}
