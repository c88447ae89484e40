package backend

import (
	"context"
	"net/http"
)

// GoogleSignIn exchanges a Google ID credential for a session token.
func (c *Client) GoogleSignIn(ctx context.Context, credential string) (AuthResult, error) {
	var res AuthResult
	err := c.do(ctx, http.MethodPost, "/auth/google", map[string]string{"credential": credential}, &res)
	return res, err
}

// Logout revokes the current session token on the server.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// ForgotPassword asks the backend to email a reset link.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/forgot-password", map[string]string{"email": email}, nil)
}

// ResetPassword sets a new password using a reset token and returns the
// backend's confirmation message.
func (c *Client) ResetPassword(ctx context.Context, token, password string) (string, error) {
	var res struct {
		Message string `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/reset-password", map[string]string{
		"token":    token,
		"password": password,
	}, &res)
	return res.Message, err
}

// VerifyEmail confirms an email verification token and returns its status.
func (c *Client) VerifyEmail(ctx context.Context, token string) (string, error) {
	var res struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/verify-email", map[string]string{"token": token}, &res)
	return res.Status, err
}
