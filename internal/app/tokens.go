package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/commhub/internal/adapter/metrics"
	"github.com/pscheid92/commhub/internal/domain"
	apperrors "github.com/pscheid92/commhub/internal/platform/errors"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	gmailRefreshSkew        = 5 * time.Minute
	gmailExpiringWindow     = 10 * time.Minute
	instagramExpiringWindow = 7 * 24 * time.Hour
	defaultGmailTokenTTL    = time.Hour
	gmailRefreshTimeout     = 30 * time.Second
)

type RefreshResult struct {
	Checked   int `json:"checked"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

// TokenManager keeps provider tokens fresh, on demand for Gmail and on a
// schedule for both providers.
type TokenManager struct {
	creds     *CredentialStore
	gmail     domain.GmailIntegrationRepository
	instagram domain.InstagramIntegrationRepository
	graph     InstagramAPI
	oauth     *oauth2.Config
	metrics   *metrics.ProviderMetrics
	clock     clockwork.Clock
	refreshes singleflight.Group
}

func NewTokenManager(creds *CredentialStore, gmail domain.GmailIntegrationRepository, instagram domain.InstagramIntegrationRepository, graph InstagramAPI, oauth *oauth2.Config, pm *metrics.ProviderMetrics, clock clockwork.Clock) *TokenManager {
	return &TokenManager{
		creds:     creds,
		gmail:     gmail,
		instagram: instagram,
		graph:     graph,
		oauth:     oauth,
		metrics:   pm,
		clock:     clock,
	}
}

// EnsureGmailToken returns a token valid for at least five more minutes,
// refreshing it first if needed.
func (t *TokenManager) EnsureGmailToken(ctx context.Context, in *domain.GmailIntegration) (*oauth2.Token, error) {
	token, err := t.creds.GmailTokens(ctx, in)
	if err != nil {
		return nil, err
	}
	if !token.Expiry.IsZero() && token.Expiry.Sub(t.clock.Now()) > gmailRefreshSkew {
		return token, nil
	}
	return t.refreshGmail(ctx, in.ID, token.RefreshToken)
}

// refreshGmail collapses concurrent refreshes of the same integration. The
// shared refresh runs detached from the first caller, so one caller giving up
// neither fails the others nor flags the integration as expired.
func (t *TokenManager) refreshGmail(ctx context.Context, id uuid.UUID, refreshToken string) (*oauth2.Token, error) {
	ch := t.refreshes.DoChan(id.String(), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gmailRefreshTimeout)
		defer cancel()

		fresh, err := t.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		t.metrics.ObserveRefresh(string(domain.ProviderGmail), err)
		if err != nil {
			t.MarkGmailExpired(ctx, id, "Token refresh failed: "+err.Error())
			return nil, apperrors.UnauthorizedError("gmail token refresh failed").
				WithCode(apperrors.CodeTokenExpired).
				WithField("integration_id", id.String())
		}

		if fresh.Expiry.IsZero() {
			fresh.Expiry = t.clock.Now().Add(defaultGmailTokenTTL)
		}
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = refreshToken
		}
		if err := t.creds.StoreGmailToken(ctx, id, fresh); err != nil {
			return nil, err
		}

		slog.InfoContext(ctx, "Refreshed gmail token", "integration_id", id, "expires_at", fresh.Expiry)
		return fresh, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	}
}

// RefreshExpiring refreshes Gmail tokens expiring within ten minutes and
// Instagram long-lived tokens expiring within seven days.
func (t *TokenManager) RefreshExpiring(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult
	now := t.clock.Now()

	gmails, err := t.gmail.ListExpiring(ctx, now.Add(gmailExpiringWindow))
	if err != nil {
		return res, apperrors.InternalError("failed to list expiring gmail integrations", err)
	}
	for _, in := range gmails {
		res.Checked++
		token, err := t.creds.GmailTokens(ctx, in)
		if err == nil {
			_, err = t.refreshGmail(ctx, in.ID, token.RefreshToken)
		}
		if err != nil {
			slog.WarnContext(ctx, "Gmail token refresh failed", "integration_id", in.ID, "error", err)
			res.Failed++
			continue
		}
		res.Refreshed++
	}

	igs, err := t.instagram.ListExpiring(ctx, now.Add(instagramExpiringWindow))
	if err != nil {
		return res, apperrors.InternalError("failed to list expiring instagram integrations", err)
	}
	for _, in := range igs {
		res.Checked++
		if err := t.refreshInstagram(ctx, in); err != nil {
			slog.WarnContext(ctx, "Instagram token refresh failed", "integration_id", in.ID, "error", err)
			res.Failed++
			continue
		}
		res.Refreshed++
	}

	slog.InfoContext(ctx, "Token refresh finished", "checked", res.Checked, "refreshed", res.Refreshed, "failed", res.Failed)
	return res, nil
}

func (t *TokenManager) refreshInstagram(ctx context.Context, in *domain.InstagramIntegration) error {
	now := t.clock.Now()
	if in.TokenExpiresAt != nil && !in.TokenExpiresAt.After(now) {
		t.MarkInstagramExpired(ctx, in.ID, "Access token expired")
		return apperrors.UnauthorizedError("instagram token already expired").WithCode(apperrors.CodeTokenExpired)
	}

	token, err := t.creds.InstagramAccessToken(ctx, in)
	if err != nil {
		return err
	}

	refreshed, err := t.graph.RefreshLongLived(ctx, token)
	t.metrics.ObserveRefresh(string(domain.ProviderInstagram), err)
	if err != nil {
		t.MarkInstagramExpired(ctx, in.ID, "Token refresh failed: "+err.Error())
		return err
	}

	expiresAt := now.Add(time.Duration(refreshed.ExpiresIn) * time.Second)
	return t.creds.StoreInstagramToken(ctx, in.ID, refreshed.AccessToken, expiresAt)
}

func (t *TokenManager) MarkInstagramExpired(ctx context.Context, id uuid.UUID, reason string) {
	if err := t.instagram.SetStatus(ctx, id, domain.StatusExpired, reason); err != nil {
		slog.ErrorContext(ctx, "Failed to mark instagram integration expired", "integration_id", id, "error", err)
	}
}

func (t *TokenManager) MarkGmailExpired(ctx context.Context, id uuid.UUID, reason string) {
	if err := t.gmail.SetStatus(ctx, id, domain.StatusExpired, reason); err != nil {
		slog.ErrorContext(ctx, "Failed to mark gmail integration expired", "integration_id", id, "error", err)
	}
}
