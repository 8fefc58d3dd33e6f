package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/commhub/internal/domain"
	"github.com/pscheid92/commhub/internal/platform/crypto"
	apperrors "github.com/pscheid92/commhub/internal/platform/errors"
	"golang.org/x/oauth2"
)

const decryptFailedMessage = "Failed to decrypt access token"

// CredentialStore is the only place provider tokens are encrypted or
// decrypted. Repositories see ciphertext only.
type CredentialStore struct {
	crypto    crypto.Service
	instagram domain.InstagramIntegrationRepository
	gmail     domain.GmailIntegrationRepository
	slack     domain.SlackIntegrationRepository
	clock     clockwork.Clock
}

type CredentialStoreDeps struct {
	Crypto    crypto.Service
	Instagram domain.InstagramIntegrationRepository
	Gmail     domain.GmailIntegrationRepository
	Slack     domain.SlackIntegrationRepository
	Clock     clockwork.Clock
}

func NewCredentialStore(d CredentialStoreDeps) *CredentialStore {
	return &CredentialStore{crypto: d.Crypto, instagram: d.Instagram, gmail: d.Gmail, slack: d.Slack, clock: d.Clock}
}

func (s *CredentialStore) Encrypt(plaintext string) (string, error) {
	out, err := s.crypto.Encrypt(plaintext)
	if err != nil {
		return "", apperrors.InternalError("failed to encrypt token", err)
	}
	return out, nil
}

// InstagramAccessToken decrypts the integration's token. An undecryptable
// token flags the integration as errored.
func (s *CredentialStore) InstagramAccessToken(ctx context.Context, in *domain.InstagramIntegration) (string, error) {
	token, err := s.crypto.Decrypt(in.AccessTokenEncrypted)
	if err == nil {
		return token, nil
	}

	if setErr := s.instagram.SetStatus(ctx, in.ID, domain.StatusError, decryptFailedMessage); setErr != nil {
		slog.ErrorContext(ctx, "Failed to flag integration after decrypt failure", "integration_id", in.ID, "error", setErr)
	}
	return "", tokenError(in.ID, err)
}

// GmailTokens returns the decrypted token pair with its stored expiry.
func (s *CredentialStore) GmailTokens(ctx context.Context, in *domain.GmailIntegration) (*oauth2.Token, error) {
	access, err := s.crypto.Decrypt(in.AccessTokenEncrypted)
	if err != nil {
		return nil, s.flagGmail(ctx, in.ID, err)
	}

	var refresh string
	if in.RefreshTokenEncrypted != "" {
		if refresh, err = s.crypto.Decrypt(in.RefreshTokenEncrypted); err != nil {
			return nil, s.flagGmail(ctx, in.ID, err)
		}
	}

	token := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}
	if in.TokenExpiresAt != nil {
		token.Expiry = *in.TokenExpiresAt
	}
	return token, nil
}

func (s *CredentialStore) flagGmail(ctx context.Context, id uuid.UUID, cause error) error {
	if setErr := s.gmail.SetStatus(ctx, id, domain.StatusError, decryptFailedMessage); setErr != nil {
		slog.ErrorContext(ctx, "Failed to flag integration after decrypt failure", "integration_id", id, "error", setErr)
	}
	return tokenError(id, cause)
}

func (s *CredentialStore) SlackBotToken(ctx context.Context, in *domain.SlackIntegration) (string, error) {
	token, err := s.crypto.Decrypt(in.BotTokenEncrypted)
	if err == nil {
		return token, nil
	}

	if setErr := s.slack.SetStatus(ctx, in.ID, domain.StatusError, decryptFailedMessage); setErr != nil {
		slog.ErrorContext(ctx, "Failed to flag integration after decrypt failure", "integration_id", in.ID, "error", setErr)
	}
	return "", tokenError(in.ID, err)
}

func (s *CredentialStore) StoreInstagramToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	enc, err := s.Encrypt(token)
	if err != nil {
		return err
	}
	if err := s.instagram.UpdateToken(ctx, id, enc, expiresAt, s.clock.Now()); err != nil {
		return fmt.Errorf("failed to store instagram token: %w", err)
	}
	return nil
}

// StoreGmailToken persists a refreshed access token. The refresh token is
// long-lived and only written on (re)connect.
func (s *CredentialStore) StoreGmailToken(ctx context.Context, id uuid.UUID, token *oauth2.Token) error {
	enc, err := s.Encrypt(token.AccessToken)
	if err != nil {
		return err
	}
	if err := s.gmail.UpdateAccessToken(ctx, id, enc, token.Expiry, s.clock.Now()); err != nil {
		return fmt.Errorf("failed to store gmail token: %w", err)
	}
	return nil
}

func tokenError(id uuid.UUID, cause error) error {
	return apperrors.InternalError("failed to decrypt access token", cause).
		WithCode(apperrors.CodeTokenError).
		WithField("integration_id", id.String())
}
