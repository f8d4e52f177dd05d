package llm

import (
	"fmt"
	"os"
	"strconv"

	"google.golang.org/genai"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.7
	defaultTopP           = 0.95
	defaultTopK           = 40
	defaultMaxTokens      = 1024
	defaultTimeoutSeconds = 30
)

// GeminiConfig holds configuration for the Gemini LLM adapter.
// Required fields:
// - APIKey: Your Google AI API key
// Optional fields with defaults:
// - Model: The model to use (default: "gemini-2.0-flash")
// - Temperature, TopP, TopK, MaxOutputTokens, TimeoutSeconds
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int
	TimeoutSeconds  int
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}

	if config.Temperature != 0 && (config.Temperature < 0 || config.Temperature > 1) {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", config.Temperature)
	}

	if config.TopP != 0 && (config.TopP < 0 || config.TopP > 1) {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TopP)
	}

	if config.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", config.TopK)
	}

	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}

	return nil
}

// NewGeminiConfigFromEnv creates a GeminiConfig from environment variables
func NewGeminiConfigFromEnv() GeminiConfig {
	config := GeminiConfig{
		APIKey: os.Getenv("GEMINI_API_KEY"),
		Model:  os.Getenv("GEMINI_MODEL"),
	}

	if timeoutStr := os.Getenv("GEMINI_TIMEOUT_SECONDS"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil && timeout > 0 {
			config.TimeoutSeconds = timeout
		}
	}

	return config
}

// clinicalSystemPrompt instructs the model to act as MACA, the clinical
// analysis assistant. It bounds the model to diagnosis and referral and
// forbids treatment advice outside of emergencies.
const clinicalSystemPrompt = `You are MACA (Multimodal Assistant for Clinical Analysis), a knowledgeable medical AI assistant.

LANGUAGE SUPPORT:
You understand and respond in multiple languages including:
- English
- Yoruba
- Igbo
- Hausa
- Pidgin

Detect the language from the user's input and respond in that same language to ensure clear communication.

Your role is to:
- Listen carefully to patient symptoms
- Ask relevant clarifying questions
- Analyze symptoms and provide potential diagnoses
- Explain the diagnosed condition in clear, understandable terms
- Recommend the appropriate type of medical specialist to consult

EMERGENCY FIRST-AID EXCEPTION:
If the situation is life-threatening or an emergency requiring immediate action before professional help arrives, you MAY provide first-aid instructions and emergency medication guidance to sustain life (e.g., CPR, stopping bleeding, EpiPen for anaphylaxis, aspirin for heart attack). ALWAYS instruct to call emergency services immediately.

STANDARD LIMITATIONS (Non-Emergency):
- You CAN provide diagnoses based on symptoms
- You do NOT recommend treatments or medications for non-emergency conditions
- You do NOT prescribe anything for chronic or non-urgent conditions
- You ALWAYS advise consulting a licensed medical practitioner for treatment
- You specify WHICH TYPE of practitioner based on the diagnosis

Maintain a professional, empathetic, and helpful tone in all languages. Clearly distinguish between life-threatening emergencies and standard medical consultations.`

// geminiHardcodedConfig carries settings that are part of the product, not
// deployment configuration.
var geminiHardcodedConfig = struct {
	SystemPrompt   string
	SafetySettings []*genai.SafetySetting
	Fallbacks      []string
}{
	SystemPrompt: clinicalSystemPrompt,
	SafetySettings: []*genai.SafetySetting{
		{
			Category:  genai.HarmCategoryHarassment,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		},
		{
			Category:  genai.HarmCategoryHateSpeech,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		},
		{
			Category:  genai.HarmCategorySexuallyExplicit,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		},
		{
			Category:  genai.HarmCategoryDangerousContent,
			Threshold: genai.HarmBlockThresholdBlockOnlyHigh,
		},
	},
	Fallbacks: []string{
		"I'm sorry, I didn't catch that. Could you describe your symptoms again?",
		"I'm having trouble responding right now. Please repeat what you were telling me.",
		"Apologies, something went wrong on my side. Could you say that once more?",
	},
}
