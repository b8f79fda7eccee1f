package broker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pquerna/otp/totp"
)

// Session manages the Kite access token lifecycle. Kite tokens expire daily
// (6 AM IST the next day), so a scheduler job refreshes the session once per
// calendar day.
type Session struct {
	broker       *KiteBroker
	apiSecret    string
	totpSecret   string
	refreshToken string
}

// SessionConfig holds session refresh credentials.
type SessionConfig struct {
	APISecret    string
	TOTPSecret   string
	RefreshToken string
}

// NewSession creates a session manager bound to a Kite broker.
func NewSession(b *KiteBroker, cfg SessionConfig) *Session {
	return &Session{
		broker:       b,
		apiSecret:    cfg.APISecret,
		totpSecret:   cfg.TOTPSecret,
		refreshToken: cfg.RefreshToken,
	}
}

// TOTPNow generates the current TOTP code for the login flow.
func (s *Session) TOTPNow() (string, error) {
	if s.totpSecret == "" {
		return "", fmt.Errorf("session: no TOTP secret configured")
	}
	code, err := totp.GenerateCode(s.totpSecret, time.Now())
	if err != nil {
		return "", fmt.Errorf("session: generate TOTP: %w", err)
	}
	return code, nil
}

// Refresh renews the access token from the stored refresh token and installs
// it on the broker client. Called by the daily scheduler timer; a failure is
// reported but the timer reschedules regardless of outcome.
func (s *Session) Refresh(ctx context.Context) error {
	if s.refreshToken == "" {
		return fmt.Errorf("session: no refresh token configured")
	}

	tokens, err := s.broker.Client().RenewAccessToken(s.refreshToken, s.apiSecret)
	if err != nil {
		return fmt.Errorf("session: renew access token: %w", err)
	}

	s.broker.SetAccessToken(tokens.AccessToken)
	if tokens.RefreshToken != "" {
		s.refreshToken = tokens.RefreshToken
	}

	log.Printf("[session] access token refreshed")
	return nil
}

// Exchange completes the login flow with a request token obtained from the
// Kite login redirect, establishing a fresh session.
func (s *Session) Exchange(ctx context.Context, requestToken string) error {
	data, err := s.broker.Client().GenerateSession(requestToken, s.apiSecret)
	if err != nil {
		return fmt.Errorf("session: generate session: %w", err)
	}
	s.broker.SetAccessToken(data.AccessToken)
	if data.RefreshToken != "" {
		s.refreshToken = data.RefreshToken
	}
	log.Printf("[session] session established for user %s", data.UserID)
	return nil
}
