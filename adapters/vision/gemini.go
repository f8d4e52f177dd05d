// Package vision implements the image-analysis side channel used during a
// consultation: a captured snapshot in, a short clinical observation out.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/macahealth/maca-server/domain/repositories"
)

const defaultModel = "gemini-2.5-flash"

// visionPrompt steers the model toward short, medically relevant
// observations suitable for voice output.
const visionPrompt = `You are a medical AI assistant analyzing an image from a patient during a telemedicine consultation.

Analyze this image and describe what you see in a medical context:
1. If you see hands or gestures, describe the gesture or what they might be indicating
2. If you see skin conditions, rashes, or visible symptoms, describe them clearly
3. If you see any objects (medications, medical devices, documents), identify them
4. If you see general body parts or posture, describe any relevant observations

Be concise and clinical. Focus on medically relevant observations.
If nothing medically relevant is visible, simply describe what you see briefly.

Respond in 1-2 sentences, suitable for voice output.`

// GeminiVision implements VisionAnalyzer using Gemini's multimodal API.
type GeminiVision struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

var _ repositories.VisionAnalyzer = (*GeminiVision)(nil)

// NewGeminiVision creates a vision analyzer reusing an existing Gemini
// client.
func NewGeminiVision(client *genai.Client, logger *zap.Logger) *GeminiVision {
	return &GeminiVision{
		client: client,
		model:  defaultModel,
		logger: logger,
	}
}

// Analyze describes one base64-encoded snapshot. Data-URL prefixes are
// accepted and used to detect the MIME type.
func (g *GeminiVision) Analyze(ctx context.Context, imageBase64 string) (string, error) {
	if imageBase64 == "" {
		return "", fmt.Errorf("image data is required")
	}

	mimeType, payload := splitDataURL(imageBase64)

	imageData, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("invalid base64 image data: %w", err)
	}

	g.logger.Info("Analyzing image",
		zap.Int("bytes", len(imageData)),
		zap.String("mimeType", mimeType))

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(imageData, mimeType),
			genai.NewPartFromText(visionPrompt),
		}, genai.RoleUser),
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(0.4)),
		MaxOutputTokens: 150,
	}

	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("vision analysis failed: %w", err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", fmt.Errorf("no analysis generated")
	}

	var analysis string
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			analysis += part.Text
		}
	}

	analysis = strings.TrimSpace(analysis)
	if analysis == "" {
		return "", fmt.Errorf("empty analysis response")
	}

	g.logger.Info("Image analysis completed", zap.Int("length", len(analysis)))
	return analysis, nil
}

// splitDataURL strips an optional data-URL prefix and reports the MIME
// type it declares, defaulting to JPEG.
func splitDataURL(image string) (mimeType, payload string) {
	mimeType = "image/jpeg"
	payload = image

	if !strings.HasPrefix(image, "data:image/") {
		return mimeType, payload
	}

	rest := strings.TrimPrefix(image, "data:")
	semi := strings.Index(rest, ";base64,")
	if semi < 0 {
		return mimeType, payload
	}

	return rest[:semi], rest[semi+len(";base64,"):]
}
