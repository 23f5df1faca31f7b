package oidc

// Package oidc provides an IdentityProvider backed by a generic OIDC/OAuth2
// server using the resource owner password grant.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/target/portfolio-ui/internal/adapters/notify"
	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	"github.com/target/portfolio-ui/internal/ports"
)

// refreshMargin is how long before expiry CurrentSession refreshes the token.
const refreshMargin = time.Minute

var (
	_ ports.IdentityProvider = (*Client)(nil)
	_ ports.ProviderFactory  = (*Factory)(nil)
)

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	Scope        string
	DiscoveryURL string
	HTTPClient   *http.Client // Optional, defaults to a client with a 30s timeout
	Logger       *slog.Logger
}

// Factory holds the discovered provider configuration shared by all visitor clients.
type Factory struct {
	config     *oauth2.Config
	httpClient *http.Client
	logger     *slog.Logger
	storage    ports.TokenStorage

	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
}

// NewFactory performs discovery once and returns a Factory.
func NewFactory(config ProviderConfig, storage ports.TokenStorage) (*Factory, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}
	if storage == nil {
		return nil, errors.New("token storage is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}

	return &Factory{
		config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Scopes:       strings.Fields(config.Scope),
			Endpoint:     op.Endpoint(),
		},
		httpClient:   httpClient,
		logger:       logger,
		storage:      storage,
		oidcProvider: op,
		verifier:     op.Verifier(&gooidc.Config{ClientID: config.ClientID}),
	}, nil
}

// NewProvider returns a client whose session is persisted under key.
func (f *Factory) NewProvider(_ context.Context, key string) (ports.IdentityProvider, error) {
	return &Client{f: f, key: key, hub: notify.NewHub()}, nil
}

// Client is the OIDC identity provider client for one visitor.
type Client struct {
	f   *Factory
	key string
	hub *notify.Hub
}

func (c *Client) httpCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.f.httpClient)
}

// Subscribe registers a listener for auth state changes.
func (c *Client) Subscribe() ports.Subscription { return c.hub.Subscribe() }

// CurrentSession returns the persisted session, refreshing it when it is about to expire.
func (c *Client) CurrentSession(ctx context.Context) (*domainauth.Session, error) {
	sess, err := c.f.storage.Load(ctx, c.key)
	if err != nil {
		if errors.Is(err, ports.ErrTokenNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !sess.ExpiresWithin(time.Now(), refreshMargin) {
		return &sess, nil
	}
	if sess.RefreshToken == "" {
		c.removeSession(ctx)
		return nil, nil
	}

	src := c.f.config.TokenSource(c.httpCtx(ctx), &oauth2.Token{
		RefreshToken: sess.RefreshToken,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := src.Token()
	if err != nil {
		perr := toProviderError(err)
		if perr != nil && perr.Status >= 400 && perr.Status < 500 {
			c.removeSession(ctx)
			return nil, nil
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	identity := sess.User
	if fields, idErr := c.extractFromIDToken(ctx, tok); idErr == nil && fields.userID != "" {
		identity = fields.identity()
	}
	next := toSession(tok, identity)
	if saveErr := c.f.storage.Save(ctx, c.key, next); saveErr != nil {
		return nil, fmt.Errorf("save session: %w", saveErr)
	}
	c.hub.Emit(domainauth.Event{Kind: domainauth.EventTokenRefreshed, Session: &next})
	return &next, nil
}

// SignInWithPassword exchanges credentials for tokens and emits SIGNED_IN.
func (c *Client) SignInWithPassword(ctx context.Context, creds domainauth.Credentials) (*domainauth.Session, error) {
	tok, err := c.f.config.PasswordCredentialsToken(c.httpCtx(ctx), creds.Email, creds.Password)
	if err != nil {
		if perr := toProviderError(err); perr != nil {
			return nil, perr
		}
		return nil, fmt.Errorf("password grant: %w", err)
	}

	fields, err := c.extractFromIDToken(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("extract id_token: %w", err)
	}
	if fields.email == "" || fields.userID == "" {
		if fillErr := c.fillFromUserInfo(ctx, tok, &fields); fillErr != nil {
			return nil, fmt.Errorf("get user info: %w", fillErr)
		}
	}

	sess := toSession(tok, fields.identity())
	if saveErr := c.f.storage.Save(ctx, c.key, sess); saveErr != nil {
		return nil, fmt.Errorf("save session: %w", saveErr)
	}
	c.hub.Emit(domainauth.Event{Kind: domainauth.EventSignedIn, Session: &sess})
	return &sess, nil
}

// SignUp is not offered by generic OIDC servers; account creation happens at the provider.
func (c *Client) SignUp(_ context.Context, _ domainauth.Credentials) (*domainauth.SignUpResult, error) {
	return nil, &domainauth.ProviderError{
		Status:  http.StatusUnprocessableEntity,
		Code:    "signup_disabled",
		Message: "Signups not allowed for this instance",
	}
}

// SignOut clears the local session and emits SIGNED_OUT.
func (c *Client) SignOut(ctx context.Context) error {
	c.removeSession(ctx)
	return nil
}

func (c *Client) removeSession(ctx context.Context) {
	if err := c.f.storage.Delete(ctx, c.key); err != nil {
		c.f.logger.WarnContext(ctx, "delete persisted session failed", "error", err)
	}
	c.hub.Emit(domainauth.Event{Kind: domainauth.EventSignedOut})
}

// Close ends all subscriptions.
func (c *Client) Close() error {
	c.hub.Close()
	return nil
}

func toSession(tok *oauth2.Token, identity domainauth.Identity) domainauth.Session {
	expiresAt := time.Now().Add(time.Hour)
	if !tok.Expiry.IsZero() {
		expiresAt = tok.Expiry
	}
	return domainauth.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresAt:    expiresAt,
		User:         identity,
	}
}

// toProviderError maps an OAuth2 token endpoint rejection to a ProviderError.
func toProviderError(err error) *domainauth.ProviderError {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return nil
	}
	perr := &domainauth.ProviderError{
		Code:        re.ErrorCode,
		Message:     firstNonEmpty(re.ErrorDescription, re.ErrorCode, "authentication failed"),
		Description: re.ErrorCode,
	}
	if re.Response != nil {
		perr.Status = re.Response.StatusCode
	}
	return perr
}

// UserInfo represents the user information from the OIDC userinfo endpoint.
type UserInfo struct {
	Subject    string   `json:"sub"`
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	GivenName  string   `json:"given_name"`
	FamilyName string   `json:"family_name"`
	Groups     []string `json:"groups"`
}

type idFields struct {
	userID     string
	email      string
	name       string
	givenName  string
	familyName string
	groups     []string
}

// identity maps claim fields to an Identity; profile claims go to opaque metadata.
func (f idFields) identity() domainauth.Identity {
	meta := map[string]any{}
	if f.name != "" {
		meta["full_name"] = f.name
	}
	if f.givenName != "" {
		meta["given_name"] = f.givenName
	}
	if f.familyName != "" {
		meta["family_name"] = f.familyName
	}
	if len(f.groups) > 0 {
		meta["groups"] = append([]string(nil), f.groups...)
	}
	return domainauth.Identity{ID: f.userID, Email: f.email, Metadata: meta}
}

type idTokenClaims struct {
	Sub        string   `json:"sub"`
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	GivenName  string   `json:"given_name"`
	FamilyName string   `json:"family_name"`
	Groups     []string `json:"groups"`
}

func (c *Client) extractFromIDToken(ctx context.Context, tok *oauth2.Token) (idFields, error) {
	var f idFields
	if !hasOpenIDScope(c.f.config.Scopes) {
		return f, nil
	}
	rawID, err := getIDTokenFromToken(tok)
	if err != nil {
		return f, err
	}
	idTok, err := c.f.verifier.Verify(c.httpCtx(ctx), rawID)
	if err != nil {
		return f, fmt.Errorf("verify id_token: %w", err)
	}
	var claims idTokenClaims
	if claimsErr := idTok.Claims(&claims); claimsErr != nil {
		return f, fmt.Errorf("parse id_token claims: %w", claimsErr)
	}
	return mapIDTokenClaims(claims), nil
}

func (c *Client) fillFromUserInfo(ctx context.Context, tok *oauth2.Token, f *idFields) error {
	ui, err := c.f.oidcProvider.UserInfo(c.httpCtx(ctx), oauth2.StaticTokenSource(tok))
	if err != nil {
		return fmt.Errorf("fetch user info: %w", err)
	}
	var info UserInfo
	if claimsErr := ui.Claims(&info); claimsErr != nil {
		return fmt.Errorf("decode user info: %w", claimsErr)
	}
	fillFromUserInfoClaims(f, info)
	return nil
}

func mapIDTokenClaims(c idTokenClaims) idFields {
	return idFields{
		userID:     c.Sub,
		email:      c.Email,
		name:       c.Name,
		givenName:  c.GivenName,
		familyName: c.FamilyName,
		groups:     c.Groups,
	}
}

// fillFromUserInfoClaims fills fields the id_token left empty.
func fillFromUserInfoClaims(f *idFields, ui UserInfo) {
	if f.userID == "" {
		f.userID = ui.Subject
	}
	if f.email == "" {
		f.email = ui.Email
	}
	if f.name == "" {
		f.name = ui.Name
	}
	if f.givenName == "" {
		f.givenName = ui.GivenName
	}
	if f.familyName == "" {
		f.familyName = ui.FamilyName
	}
	if len(f.groups) == 0 {
		f.groups = ui.Groups
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func hasOpenIDScope(scopes []string) bool {
	for _, sc := range scopes {
		if sc == "openid" {
			return true
		}
	}
	return false
}

// getIDTokenFromToken extracts the id_token from oauth2.Token.
func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	raw := tok.Extra("id_token")
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}
