package liveavatar

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
	"github.com/macahealth/maca-server/domain/repositories"
)

// MockSessionIssuer is a placeholder implementation for local development
// without a LiveAvatar key. Credentials it issues point at a loopback
// transport URL and never expire.
type MockSessionIssuer struct {
	logger *zap.Logger
}

// NewMockSessionIssuer creates a new mock session issuer
func NewMockSessionIssuer(logger *zap.Logger) repositories.SessionIssuer {
	return &MockSessionIssuer{
		logger: logger,
	}
}

// IssueSession implements repositories.SessionIssuer
func (m *MockSessionIssuer) IssueSession(ctx context.Context, mode entities.AvatarMode) (*entities.SessionCredentials, error) {
	sessionID := uuid.NewString()
	m.logger.Info("Issuing mock avatar session",
		zap.String("sessionID", sessionID),
		zap.String("mode", string(mode)))

	return &entities.SessionCredentials{
		SessionID:            sessionID,
		SessionToken:         fmt.Sprintf("mock-session-token-%s", sessionID),
		TransportURL:         "ws://localhost:7880",
		TransportClientToken: fmt.Sprintf("mock-client-token-%s", sessionID),
	}, nil
}

// StopSession implements repositories.SessionIssuer
func (m *MockSessionIssuer) StopSession(ctx context.Context, creds *entities.SessionCredentials) error {
	m.logger.Info("Stopping mock avatar session", zap.String("sessionID", creds.SessionID))
	return nil
}

// KeepAlive implements repositories.SessionIssuer
func (m *MockSessionIssuer) KeepAlive(ctx context.Context, creds *entities.SessionCredentials) error {
	m.logger.Debug("Mock keep-alive", zap.String("sessionID", creds.SessionID))
	return nil
}
