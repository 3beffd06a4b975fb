// Package auth resolves a currently valid bearer token for the CRM backend,
// refreshing it when the stored access token has expired.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/sync/singleflight"

	"visadesk/internal/domain"
	"visadesk/internal/metrics"
)

const refreshTimeout = 30 * time.Second

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// Gate implements domain.TokenSource on top of a TokenStore.
type Gate struct {
	store     domain.TokenStore
	refresher Refresher
	logger    *slog.Logger
	now       func() time.Time

	// At most one refresh per refresh token is in flight; concurrent callers
	// share its result.
	group singleflight.Group
}

var _ domain.TokenSource = (*Gate)(nil)

func NewGate(store domain.TokenStore, refresher Refresher, logger *slog.Logger) *Gate {
	return &Gate{
		store:     store,
		refresher: refresher,
		logger:    logger.With("component", "auth"),
		now:       time.Now,
	}
}

// ValidAccessToken returns the stored access token if it is still valid,
// otherwise refreshes it. Any failure yields ok=false and is only logged.
func (g *Gate) ValidAccessToken(ctx context.Context) (string, bool) {
	cred, err := g.store.LoadCredential(ctx)
	if err != nil {
		g.logger.Warn("cannot read credential", "err", err)
		return "", false
	}
	if cred.AccessToken == "" {
		return "", false
	}

	if !g.expired(cred.AccessToken) {
		return cred.AccessToken, true
	}
	if cred.RefreshToken == "" {
		g.logger.Info("access token expired and no refresh token stored")
		return "", false
	}

	// The refresh is shared, so it must outlive the caller that started it.
	ch := g.group.DoChan(cred.RefreshToken, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return g.refresh(refreshCtx, cred)
	})
	select {
	case <-ctx.Done():
		return "", false
	case res := <-ch:
		if res.Err != nil {
			g.logger.Warn("token refresh failed", "err", res.Err, "shared", res.Shared)
			return "", false
		}
		return res.Val.(string), true
	}
}

func (g *Gate) refresh(ctx context.Context, cred domain.Credential) (string, error) {
	access, err := g.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failed").Inc()
		return "", errors.Join(domain.ErrAuthRefreshFailed, err)
	}
	if access == "" {
		metrics.TokenRefreshes.WithLabelValues("failed").Inc()
		return "", domain.ErrAuthRefreshFailed
	}
	metrics.TokenRefreshes.WithLabelValues("ok").Inc()

	cred.AccessToken = access
	if err := g.store.SaveCredential(ctx, cred); err != nil {
		// The new token is still good for this process.
		g.logger.Warn("cannot persist refreshed token", "err", err)
	}
	g.logger.Debug("access token refreshed")
	return access, nil
}

func (g *Gate) expired(token string) bool {
	exp, ok := TokenExpiry(token)
	if !ok {
		return true
	}
	return exp.Before(g.now())
}

// Session describes the stored credential for status displays.
type Session struct {
	Operator      string
	SignedIn      bool
	AccessExpires time.Time // zero if the claim is missing
	Expired       bool
	CanRefresh    bool
}

func (g *Gate) Session(ctx context.Context) (Session, error) {
	cred, err := g.store.LoadCredential(ctx)
	if err != nil {
		return Session{}, err
	}
	s := Session{
		Operator:   cred.Operator,
		SignedIn:   cred.AccessToken != "",
		CanRefresh: cred.RefreshToken != "",
	}
	if s.SignedIn {
		s.AccessExpires, _ = TokenExpiry(cred.AccessToken)
		s.Expired = g.expired(cred.AccessToken)
	}
	return s, nil
}

// TokenExpiry decodes the exp claim of a JWT without verifying its signature.
func TokenExpiry(token string) (time.Time, bool) {
	parsed, _, err := new(jwt.Parser).ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return time.Time{}, false
	}
	switch exp := claims["exp"].(type) {
	case float64:
		return time.Unix(int64(exp), 0), true
	case int64:
		return time.Unix(exp, 0), true
	case int:
		return time.Unix(int64(exp), 0), true
	default:
		return time.Time{}, false
	}
}
