package repositories

import (
	"context"

	"github.com/macahealth/maca-server/domain/entities"
)

// SessionIssuer abstracts the avatar vendor's session lifecycle API.
// IssueSession performs the full credential handshake; the returned
// credentials are valid for exactly one avatar session.
type SessionIssuer interface {
	IssueSession(ctx context.Context, mode entities.AvatarMode) (*entities.SessionCredentials, error)
	StopSession(ctx context.Context, creds *entities.SessionCredentials) error
	// KeepAlive refreshes the vendor-side idle timer for a managed session.
	KeepAlive(ctx context.Context, creds *entities.SessionCredentials) error
}
