// Package auth manages stored OAuth credentials for the mail provider.
package auth

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/logger"
)

// expirySkew refreshes tokens slightly early so a token never expires
// mid-page while a sync is holding it.
const expirySkew = 2 * time.Minute

// TokenService loads, refreshes and persists provider OAuth tokens. It is
// the CredentialSource the sync pipeline draws from.
type TokenService struct {
	repo     out.TokenRepository
	oauthCfg *oauth2.Config
	log      *logger.Logger
}

func NewTokenService(repo out.TokenRepository, oauthCfg *oauth2.Config) *TokenService {
	return &TokenService{
		repo:     repo,
		oauthCfg: oauthCfg,
		log:      logger.WithField("component", "token_service"),
	}
}

// EnsureFreshToken returns a token valid for at least the skew window,
// refreshing through the provider when needed. A rotated refresh token is
// persisted immediately; losing one means the user has to re-consent.
func (s *TokenService) EnsureFreshToken(ctx context.Context, userID string) (*oauth2.Token, error) {
	record, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, apperr.CredentialUnavailable(userID, err)
	}
	if record == nil || record.RefreshToken == "" {
		return nil, apperr.CredentialUnavailable(userID, nil)
	}

	token := &oauth2.Token{
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		Expiry:       time.Unix(record.Expiry, 0),
	}
	if token.Valid() && time.Until(token.Expiry) > expirySkew {
		return token, nil
	}

	fresh, err := s.oauthCfg.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, apperr.CredentialUnavailable(userID, err)
	}

	if fresh.AccessToken != record.AccessToken || fresh.RefreshToken != record.RefreshToken {
		if err := s.SaveToken(ctx, userID, fresh); err != nil {
			s.log.WithError(err).WithField("user_id", userID).
				Error("failed to persist refreshed token")
		}
	}
	return fresh, nil
}

// SaveToken persists a token for the user. The refresh token is kept from
// the stored record when the provider omits it on refresh.
func (s *TokenService) SaveToken(ctx context.Context, userID string, token *oauth2.Token) error {
	refreshToken := token.RefreshToken
	if refreshToken == "" {
		if record, err := s.repo.Get(ctx, userID); err == nil && record != nil {
			refreshToken = record.RefreshToken
		}
	}

	return s.repo.Save(ctx, &out.TokenRecord{
		UserID:       userID,
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		Expiry:       token.Expiry.Unix(),
	})
}
