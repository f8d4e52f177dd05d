package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/macahealth/maca-server/adapters/liveavatar"
	"github.com/macahealth/maca-server/adapters/llm"
	"github.com/macahealth/maca-server/adapters/stt"
	"github.com/macahealth/maca-server/adapters/tts"
	"github.com/macahealth/maca-server/adapters/vision"
	"github.com/macahealth/maca-server/domain/entities"
	"github.com/macahealth/maca-server/domain/repositories"
	"github.com/macahealth/maca-server/internal/api"
	"github.com/macahealth/maca-server/internal/avatar"
	"github.com/macahealth/maca-server/internal/websocket"
)

func main() {
	// Load .env if present; real deployments set the environment directly
	_ = godotenv.Load()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize adapters, falling back to mocks where no credentials
	// are configured so the server still runs locally
	speechToText := buildSpeechToText(logger)
	languageModel, visionAnalyzer := buildGemini(logger)
	textToSpeech := buildTextToSpeech(logger)
	issuer := buildSessionIssuer(logger)

	mode := entities.AvatarModeCustom
	if os.Getenv("AVATAR_MODE") == string(entities.AvatarModeManaged) {
		mode = entities.AvatarModeManaged
	}

	// Initialize WebSocket hub with the conversation collaborators
	protocol := avatar.NewProtocol(logger)
	hub := websocket.NewHub(speechToText, languageModel, textToSpeech, issuer, protocol, mode, logger)
	go hub.Run()

	// Initialize API routes
	api.InitRoutes(e, hub, speechToText, languageModel, textToSpeech, visionAnalyzer, issuer, logger)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("port", port), zap.String("avatarMode", string(mode)))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// buildSpeechToText selects the recognizer: STT_PROVIDER=google uses the
// Google Cloud streaming adapter (credentials via Application Default
// Credentials), STT_PROVIDER=mock forces the mock, anything else tries
// ElevenLabs and falls back to the mock when no key is configured.
func buildSpeechToText(logger *zap.Logger) repositories.SpeechToText {
	switch os.Getenv("STT_PROVIDER") {
	case "google":
		logger.Info("Using Google Cloud speech recognition")
		return &stt.GoogleSpeechToText{}
	case "mock":
		return stt.NewMockSpeechToText(logger)
	}

	config := stt.NewElevenLabsConfigFromEnv()
	service, err := stt.NewElevenLabsSTT(config, logger)
	if err != nil {
		logger.Warn("ElevenLabs STT not configured, using mock", zap.Error(err))
		return stt.NewMockSpeechToText(logger)
	}
	return service
}

func buildGemini(logger *zap.Logger) (repositories.LargeLanguageModel, repositories.VisionAnalyzer) {
	config := llm.NewGeminiConfigFromEnv()
	gemini, err := llm.NewGeminiLLM(config, logger)
	if err != nil {
		logger.Warn("Gemini not configured, using mock", zap.Error(err))
		return llm.NewMockGeminiClient(), mockVision{}
	}
	return gemini, vision.NewGeminiVision(gemini.Client(), logger)
}

func buildTextToSpeech(logger *zap.Logger) repositories.TextToSpeech {
	config := tts.NewElevenLabsConfigFromEnv()
	service, err := tts.NewElevenLabsTTS(config, logger)
	if err != nil {
		logger.Warn("ElevenLabs TTS not configured, using mock", zap.Error(err))
		return tts.NewMockTextToSpeech(logger)
	}
	return service
}

func buildSessionIssuer(logger *zap.Logger) repositories.SessionIssuer {
	config := liveavatar.NewConfigFromEnv()
	client, err := liveavatar.NewClient(config, logger)
	if err != nil {
		logger.Warn("LiveAvatar not configured, using mock issuer", zap.Error(err))
		return liveavatar.NewMockSessionIssuer(logger)
	}
	return client
}

// mockVision stands in when no Gemini key is configured.
type mockVision struct{}

func (mockVision) Analyze(ctx context.Context, imageBase64 string) (string, error) {
	return "Image received. A clinician should review it directly.", nil
}
