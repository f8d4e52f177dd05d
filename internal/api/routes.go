package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
	"github.com/macahealth/maca-server/domain/repositories"
	"github.com/macahealth/maca-server/internal/auth"
	"github.com/macahealth/maca-server/internal/websocket"
)

// InitRoutes initializes all API routes
func InitRoutes(
	e *echo.Echo,
	hub *websocket.Hub,
	stt repositories.SpeechToText,
	llm repositories.LargeLanguageModel,
	tts repositories.TextToSpeech,
	vision repositories.VisionAnalyzer,
	issuer repositories.SessionIssuer,
	logger *zap.Logger,
) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "maca-server",
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.POST("/session", func(c echo.Context) error {
		return issueSession(c, issuer, logger)
	})
	v1.POST("/stt", func(c echo.Context) error {
		return transcribeAudio(c, stt, logger)
	})
	v1.POST("/chat", func(c echo.Context) error {
		return chatTurn(c, llm, logger)
	})
	v1.POST("/tts", func(c echo.Context) error {
		return synthesizeSpeech(c, tts, logger)
	})
	v1.POST("/vision", func(c echo.Context) error {
		return analyzeImage(c, vision, logger)
	})

	// WebSocket endpoint with JWT validation
	e.GET("/ws", func(c echo.Context) error {
		return websocketWithAuth(hub, c, logger)
	})
}

// issueSession performs the vendor credential handshake and mints a client
// token for the voice-bridge websocket.
func issueSession(c echo.Context, issuer repositories.SessionIssuer, logger *zap.Logger) error {
	var req SessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	mode := entities.AvatarModeCustom
	if req.Mode == string(entities.AvatarModeManaged) {
		mode = entities.AvatarModeManaged
	}

	creds, err := issuer.IssueSession(c.Request().Context(), mode)
	if err != nil {
		logger.Error("Failed to issue avatar session", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "session_issue_failed",
			Message: "Avatar session could not be created",
		})
	}

	clientID := uuid.NewString()
	token, err := auth.GenerateClientToken(clientID)
	if err != nil {
		logger.Error("Failed to generate client token",
			zap.String("client_id", clientID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	logger.Info("Avatar session issued",
		zap.String("session_id", creds.SessionID),
		zap.String("client_id", clientID))

	return c.JSON(http.StatusOK, SessionResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(24 * time.Hour),
		Session:   creds,
	})
}

// transcribeAudio accepts a multipart audio upload and relays it to the
// speech recognizer.
func transcribeAudio(c echo.Context, stt repositories.SpeechToText, logger *zap.Logger) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_file",
			Message: "Multipart field 'file' is required",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		logger.Error("Failed to open uploaded audio", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_file",
			Message: "Uploaded audio could not be read",
		})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		logger.Error("Failed to read uploaded audio", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_file",
			Message: "Uploaded audio could not be read",
		})
	}

	clip := &entities.AudioClip{
		Data:   data,
		Format: formatFromFilename(fileHeader.Filename),
	}

	transcript, err := stt.Transcribe(c.Request().Context(), clip, c.FormValue("language"))
	if err != nil {
		logger.Error("Transcription failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "transcription_failed",
			Message: "Speech recognition failed",
		})
	}

	return c.JSON(http.StatusOK, TranscribeResponse{
		Text:     transcript.Text,
		Language: transcript.Language,
	})
}

// chatTurn runs one text-only conversation turn against the language model.
// The caller owns the history and sends it back with each request.
func chatTurn(c echo.Context, llm repositories.LargeLanguageModel, logger *zap.Logger) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Message is required",
		})
	}

	session, err := llm.GenerateChat(c.Request().Context(), req.History)
	if err != nil {
		logger.Error("Failed to create chat session", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "chat_failed",
			Message: "Language model is unavailable",
		})
	}

	reply, err := session.SendMessage(c.Request().Context(), entities.ConversationMessage{
		Role:    entities.MessageRoleUser,
		Content: req.Message,
	})
	if err != nil {
		logger.Error("Chat turn failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "chat_failed",
			Message: "Language model request failed",
		})
	}

	return c.JSON(http.StatusOK, ChatResponse{Response: reply.Content})
}

// synthesizeSpeech converts text to audio and returns the raw bytes. The
// clip's PCM shape travels in response headers so the caller can play it.
func synthesizeSpeech(c echo.Context, tts repositories.TextToSpeech, logger *zap.Logger) error {
	var req SynthesizeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Text is required",
		})
	}

	clip, err := tts.Synthesize(c.Request().Context(), req.Text, repositories.VoiceOptions{
		Voice: req.Voice,
	})
	if err != nil {
		logger.Error("Speech synthesis failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "synthesis_failed",
			Message: "Speech synthesis failed",
		})
	}

	c.Response().Header().Set("X-Sample-Rate", strconv.Itoa(clip.SampleRateHz))
	c.Response().Header().Set("X-Bit-Depth", strconv.Itoa(clip.BitDepth))
	return c.Blob(http.StatusOK, contentTypeForClip(clip), clip.Data)
}

// analyzeImage relays a base64 image to the vision analyzer.
func analyzeImage(c echo.Context, vision repositories.VisionAnalyzer, logger *zap.Logger) error {
	var req VisionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.Image == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Image is required",
		})
	}

	analysis, err := vision.Analyze(c.Request().Context(), req.Image)
	if err != nil {
		logger.Error("Vision analysis failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "vision_failed",
			Message: "Image analysis failed",
		})
	}

	return c.JSON(http.StatusOK, VisionResponse{Analysis: analysis})
}

func formatFromFilename(name string) entities.ContainerFormat {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return entities.ContainerWAV
	case ".pcm", ".raw":
		return entities.ContainerPCM
	default:
		return entities.ContainerWebM
	}
}

func contentTypeForClip(clip *entities.AudioClip) string {
	if clip.Format == entities.ContainerWAV {
		return "audio/wav"
	}
	return "audio/pcm"
}

// websocketWithAuth handles WebSocket connections with JWT authentication
func websocketWithAuth(hub *websocket.Hub, c echo.Context, logger *zap.Logger) error {
	// Extract JWT token from Authorization header only
	var token string
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader != "" && len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		token = authHeader[7:]
	}

	if token == "" {
		logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required in Authorization header",
		})
	}

	// Validate JWT token
	claims, err := auth.ValidateToken(token)
	if err != nil {
		logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	if claims.Role != "client" {
		logger.Warn("WebSocket connection rejected: invalid role",
			zap.String("role", claims.Role))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "invalid_role",
			Message: "Only client tokens are allowed for WebSocket connections",
		})
	}

	clientID := claims.ClientID
	if clientID == "" {
		logger.Error("WebSocket connection rejected: missing client ID in token")
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_token_claims",
			Message: "Client ID not found in token",
		})
	}

	logger.Info("WebSocket connection authenticated",
		zap.String("client_id", clientID))

	return websocket.HandleWebSocketWithAuth(hub, c, clientID, logger)
}
