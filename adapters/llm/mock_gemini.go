package llm

import (
	"context"
	"fmt"

	"github.com/macahealth/maca-server/domain/entities"
	"github.com/macahealth/maca-server/domain/repositories"
)

// MockGeminiClient is a placeholder implementation for local development
// without an API key.
type MockGeminiClient struct{}

// NewMockGeminiClient creates a new mock Gemini client
func NewMockGeminiClient() repositories.LargeLanguageModel {
	return &MockGeminiClient{}
}

// GenerateChat implements repositories.LargeLanguageModel
func (g *MockGeminiClient) GenerateChat(ctx context.Context, history []entities.ConversationMessage) (repositories.ChatSession, error) {
	return &MockGeminiChatSession{
		history: history,
	}, nil
}

// MockGeminiChatSession implements repositories.ChatSession
type MockGeminiChatSession struct {
	history []entities.ConversationMessage
}

// SendMessage implements repositories.ChatSession
func (g *MockGeminiChatSession) SendMessage(ctx context.Context, message entities.ConversationMessage) (entities.ConversationMessage, error) {
	g.history = append(g.history, message)

	var response string
	switch {
	case len(message.Content) > 0:
		response = fmt.Sprintf("I heard you say %q. How long have you been experiencing this?", message.Content)
	default:
		response = "Hello, I am MACA. Please describe your symptoms."
	}

	responseMessage := entities.ConversationMessage{
		Role:    entities.MessageRoleAssistant,
		Content: response,
	}

	g.history = append(g.history, responseMessage)

	return responseMessage, nil
}

// History implements repositories.ChatSession
func (g *MockGeminiChatSession) History() ([]entities.ConversationMessage, error) {
	return g.history, nil
}
