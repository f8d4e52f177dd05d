package repositories

import (
	"context"

	"github.com/macahealth/maca-server/domain/entities"
)

// LargeLanguageModel abstracts any chat/LLM provider
type LargeLanguageModel interface {
	// GenerateChat creates a chat session seeded with prior history
	GenerateChat(ctx context.Context, history []entities.ConversationMessage) (ChatSession, error)
}

// ChatSession represents an ongoing conversation session
type ChatSession interface {
	SendMessage(ctx context.Context, message entities.ConversationMessage) (entities.ConversationMessage, error)
	History() ([]entities.ConversationMessage, error)
}
