package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
)

// api is the thin REST layer over the GoTrue endpoints.
type api struct {
	baseURL string
	anonKey string
	http    *http.Client
	now     func() time.Time
}

type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type sessionResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

// signUpResponse covers both shapes: a session when the project auto-confirms
// accounts, or a bare user when email confirmation is pending.
type signUpResponse struct {
	sessionResponse
	userResponse
}

// errorResponse covers the current and legacy GoTrue error bodies.
type errorResponse struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (a *api) signInWithPassword(ctx context.Context, creds domainauth.Credentials) (*domainauth.Session, error) {
	var out sessionResponse
	req := map[string]string{"email": creds.Email, "password": creds.Password}
	if err := a.do(ctx, call{method: http.MethodPost, path: "/auth/v1/token", grant: "password", body: req}, &out); err != nil {
		return nil, err
	}
	return a.toSession(out)
}

func (a *api) refresh(ctx context.Context, refreshToken string) (*domainauth.Session, error) {
	var out sessionResponse
	req := map[string]string{"refresh_token": refreshToken}
	if err := a.do(ctx, call{method: http.MethodPost, path: "/auth/v1/token", grant: "refresh_token", body: req}, &out); err != nil {
		return nil, err
	}
	return a.toSession(out)
}

func (a *api) signUp(ctx context.Context, creds domainauth.Credentials) (*domainauth.SignUpResult, error) {
	var out signUpResponse
	req := map[string]string{"email": creds.Email, "password": creds.Password}
	if err := a.do(ctx, call{method: http.MethodPost, path: "/auth/v1/signup", body: req}, &out); err != nil {
		return nil, err
	}

	if out.AccessToken != "" {
		sess, err := a.toSession(out.sessionResponse)
		if err != nil {
			return nil, err
		}
		return &domainauth.SignUpResult{User: sess.User.Clone(), Session: sess}, nil
	}
	return &domainauth.SignUpResult{
		User:                toIdentity(out.userResponse),
		ConfirmationPending: true,
	}, nil
}

func (a *api) logout(ctx context.Context, accessToken string) error {
	return a.do(ctx, call{method: http.MethodPost, path: "/auth/v1/logout", bearer: accessToken}, nil)
}

type call struct {
	method string
	path   string
	grant  string
	bearer string
	body   any
}

func (a *api) do(ctx context.Context, c call, out any) error {
	u := a.baseURL + c.path
	if c.grant != "" {
		u += "?" + url.Values{"grant_type": {c.grant}}.Encode()
	}

	var body io.Reader
	if c.body != nil {
		buf, err := json.Marshal(c.body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Apikey", a.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	bearer := c.bearer
	if bearer == "" {
		bearer = a.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("supabase %s %s: %w", c.method, c.path, err)
	}
	defer resp.Body.Close()

	const maxBody = 1 << 20
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, data []byte) *domainauth.ProviderError {
	perr := &domainauth.ProviderError{Status: status}

	var body errorResponse
	if err := json.Unmarshal(data, &body); err != nil {
		perr.Message = http.StatusText(status)
		return perr
	}

	perr.Code = firstNonEmpty(body.ErrorCode, body.Error)
	perr.Message = firstNonEmpty(body.Msg, body.Message, body.ErrorDescription, body.Error, http.StatusText(status))
	perr.Description = firstNonEmpty(body.ErrorDescription, body.ErrorCode)
	return perr
}

func (a *api) toSession(r sessionResponse) (*domainauth.Session, error) {
	if r.AccessToken == "" {
		return nil, errors.New("provider response has no access token")
	}

	claims := parseClaims(r.AccessToken)

	sess := &domainauth.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		ExpiresAt:    a.expiry(r, claims),
	}
	if r.User != nil {
		sess.User = toIdentity(*r.User)
	}
	if sess.User.ID == "" && claims != nil {
		sess.User.ID, _ = claims.GetSubject()
		if sess.User.Email == "" {
			sess.User.Email, _ = claims["email"].(string)
		}
	}
	return sess, nil
}

// expiry prefers expires_at, then expires_in, then the token's own exp claim.
func (a *api) expiry(r sessionResponse, claims jwt.MapClaims) time.Time {
	switch {
	case r.ExpiresAt > 0:
		return time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		return a.now().Add(time.Duration(r.ExpiresIn) * time.Second)
	case claims != nil:
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Time{}
}

// parseClaims reads the access token's claims without verifying the signature.
// The token is only inspected for bookkeeping; the provider remains the authority.
func parseClaims(token string) jwt.MapClaims {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

func toIdentity(u userResponse) domainauth.Identity {
	return domainauth.Identity{ID: u.ID, Email: u.Email, Metadata: u.UserMetadata}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
