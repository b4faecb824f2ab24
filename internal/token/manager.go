// Package token resolves valid provider access tokens per tenant, refreshing
// them near expiry and detecting irrecoverable revocation.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/reviewkit/sync-worker/internal/gbp"
	"github.com/reviewkit/sync-worker/internal/logger"
	"github.com/reviewkit/sync-worker/internal/models"
	"github.com/reviewkit/sync-worker/internal/repository"
)

// ErrReauthRequired is terminal: the stored grant is gone and the tenant must
// re-authorize. Callers stop processing the tenant and surface it distinctly.
var ErrReauthRequired = errors.New("provider re-authorization required")

// refreshSkew is how close to expiry a token is still handed out unchanged.
const refreshSkew = 60 * time.Second

// ConnectionStore is the slice of the connection repository the manager needs.
type ConnectionStore interface {
	GetByTenant(ctx context.Context, tenantID, provider string) (*models.Connection, error)
	UpdateTokens(ctx context.Context, id string, accessToken, refreshToken string, expiry time.Time) error
	Delete(ctx context.Context, id string) error
}

// Refresher performs the provider's refresh_token grant.
type Refresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*gbp.TokenRefreshResult, error)
}

type Manager struct {
	connections ConnectionStore
	refresher   Refresher
	now         func() time.Time
}

func NewManager(connections ConnectionStore, refresher Refresher) *Manager {
	return &Manager{
		connections: connections,
		refresher:   refresher,
		now:         time.Now,
	}
}

// GetValidAccessToken returns a usable access token for the tenant. Tokens
// expiring more than 60s out are returned as stored; otherwise the refresh
// grant runs and the new credentials are persisted before returning. A
// revoked grant deletes the connection and fails with ErrReauthRequired.
func (m *Manager) GetValidAccessToken(ctx context.Context, tenantID string) (string, error) {
	conn, err := m.connections.GetByTenant(ctx, tenantID, models.ProviderGoogle)
	if err != nil {
		if errors.Is(err, repository.ErrConnectionNotFound) {
			return "", fmt.Errorf("%w: no connection for tenant %s", ErrReauthRequired, tenantID)
		}
		return "", fmt.Errorf("failed to load connection: %w", err)
	}

	if conn.TokenExpiry.Sub(m.now()) > refreshSkew {
		return conn.AccessToken, nil
	}

	result, err := m.refresher.RefreshAccessToken(ctx, conn.RefreshToken)
	if err != nil {
		if isInvalidGrant(err) {
			logger.WithField("tenant_id", tenantID).Warn("Refresh grant revoked, deleting connection")
			if delErr := m.connections.Delete(ctx, conn.ID); delErr != nil {
				return "", fmt.Errorf("failed to delete revoked connection: %w", delErr)
			}
			return "", fmt.Errorf("%w: grant revoked for tenant %s", ErrReauthRequired, tenantID)
		}
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	if err := m.connections.UpdateTokens(ctx, conn.ID, result.AccessToken, result.RefreshToken, result.ExpiresAt); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	logger.WithField("tenant_id", tenantID).Debug("Access token refreshed")
	return result.AccessToken, nil
}

// isInvalidGrant reports whether the refresh endpoint rejected the grant
// itself (revoked or expired refresh token), as opposed to failing
// transiently.
func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	return retrieveErr.ErrorCode == "invalid_grant"
}
