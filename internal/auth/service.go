// Package auth runs the sign-in, sign-out and account recovery flows.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/kalambet/botdash/internal/backend"
	"github.com/kalambet/botdash/internal/session"
)

// MinPasswordLength is the shortest password accepted by ResetPassword.
const MinPasswordLength = 8

var (
	ErrMissingCredential = errors.New("credential is required")
	ErrMissingToken      = errors.New("token is required")
	ErrInvalidEmail      = errors.New("a valid email address is required")
	ErrPasswordTooShort  = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrPasswordMismatch  = errors.New("passwords do not match")
)

// API is the subset of the backend client used by the auth flows.
type API interface {
	GoogleSignIn(ctx context.Context, credential string) (backend.AuthResult, error)
	Logout(ctx context.Context) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) (string, error)
	VerifyEmail(ctx context.Context, token string) (string, error)
}

// Service wires the backend to the session store.
type Service struct {
	api      API
	sessions *session.Store
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(api API, sessions *session.Store) *Service {
	return &Service{api: api, sessions: sessions, logger: slog.Default()}
}

// SignInWithGoogle exchanges a Google credential and stores the resulting session.
func (s *Service) SignInWithGoogle(ctx context.Context, credential string) (session.Session, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return session.Session{}, ErrMissingCredential
	}

	res, err := s.api.GoogleSignIn(ctx, credential)
	if err != nil {
		return session.Session{}, fmt.Errorf("google sign-in: %w", err)
	}
	if res.Token == "" {
		return session.Session{}, errors.New("google sign-in: backend returned no token")
	}

	sess := session.Session{
		Name:      res.User.Name,
		Email:     res.User.Email,
		AvatarURL: res.User.Picture,
		Role:      session.ParseRole(res.User.Role),
		Token:     res.Token,
	}
	if err := s.sessions.Write(sess); err != nil {
		return session.Session{}, err
	}
	return s.sessions.Read(), nil
}

// Logout revokes the token on the backend when possible and always clears
// the local session. A backend failure is logged, not returned.
func (s *Service) Logout(ctx context.Context) error {
	if !s.sessions.Read().IsGuest() {
		if err := s.api.Logout(ctx); err != nil {
			s.logger.Warn("backend logout failed, clearing local session anyway", "error", err)
		}
	}
	return s.sessions.Clear()
}

// ForgotPassword requests a reset email.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return ErrInvalidEmail
	}
	if err := s.api.ForgotPassword(ctx, email); err != nil {
		return fmt.Errorf("requesting password reset: %w", err)
	}
	return nil
}

// ResetPassword validates the new password locally, then submits it with
// the reset token. It returns the backend's confirmation message.
func (s *Service) ResetPassword(ctx context.Context, token, password, confirm string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	if password != confirm {
		return "", ErrPasswordMismatch
	}

	msg, err := s.api.ResetPassword(ctx, token, password)
	if err != nil {
		return "", fmt.Errorf("resetting password: %w", err)
	}
	if msg == "" {
		msg = "Password has been reset."
	}
	return msg, nil
}

// VerifyEmail confirms an email verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	status, err := s.api.VerifyEmail(ctx, token)
	if err != nil {
		return "", fmt.Errorf("verifying email: %w", err)
	}
	return status, nil
}
