package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/target/portfolio-ui/internal/adapters/memory"
	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	"github.com/target/portfolio-ui/internal/testutil"
)

type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
}

// testIdP serves discovery, the token endpoint and userinfo.
type testIdP struct {
	server        *httptest.Server
	tokenN        atomic.Int32
	password      string
	rejectRefresh bool
}

func newTestIdP(t *testing.T) *testIdP {
	t.Helper()
	idp := &testIdP{password: "secret"}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, discoveryDocument{
			Issuer:                idp.server.URL,
			AuthorizationEndpoint: idp.server.URL + "/authorize",
			TokenEndpoint:         idp.server.URL + "/token",
			UserinfoEndpoint:      idp.server.URL + "/userinfo",
			JwksURI:               idp.server.URL + "/jwks",
		})
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		idp.tokenN.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch r.Form.Get("grant_type") {
		case "password":
			if r.Form.Get("password") != idp.password {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error":             "invalid_grant",
					"error_description": "Invalid user credentials",
				})
				return
			}
		case "refresh_token":
			if idp.rejectRefresh {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error":             "invalid_grant",
					"error_description": "Token is not active",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-" + r.Form.Get("grant_type"),
			"refresh_token": "refresh-next",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, UserInfo{
			Subject: "user-1",
			Email:   "ada@example.com",
			Name:    "Ada Lovelace",
			Groups:  []string{"readers"},
		})
	})
	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, idp *testIdP, storage *memory.TokenStorage) *Client {
	t.Helper()
	f, err := NewFactory(ProviderConfig{
		ClientID:     "portfolio",
		ClientSecret: "client-secret",
		Scope:        "profile email",
		DiscoveryURL: idp.server.URL + "/.well-known/openid-configuration",
	}, storage)
	require.NoError(t, err)

	p, err := f.NewProvider(context.Background(), "visitor-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	c, ok := p.(*Client)
	require.True(t, ok)
	return c
}

func TestNewFactory_Discovery(t *testing.T) {
	idp := newTestIdP(t)
	f, err := NewFactory(ProviderConfig{
		ClientID:     "portfolio",
		DiscoveryURL: idp.server.URL,
		Scope:        "openid profile",
	}, memory.NewTokenStorage())
	require.NoError(t, err)
	assert.Equal(t, idp.server.URL+"/token", f.config.Endpoint.TokenURL)
	assert.Equal(t, []string{"openid", "profile"}, f.config.Scopes)
}

func TestNewFactory_ValidationErrors(t *testing.T) {
	storage := memory.NewTokenStorage()
	tests := []struct {
		name    string
		config  ProviderConfig
		storage *memory.TokenStorage
		errMsg  string
	}{
		{name: "missing client ID", config: ProviderConfig{DiscoveryURL: "http://example.com"}, storage: storage, errMsg: "client ID is required"},
		{name: "missing discovery URL", config: ProviderConfig{ClientID: "c"}, storage: storage, errMsg: "discovery URL is required"},
		{name: "missing storage", config: ProviderConfig{ClientID: "c", DiscoveryURL: "http://example.com"}, errMsg: "token storage is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.storage == nil {
				_, err = NewFactory(tt.config, nil)
			} else {
				_, err = NewFactory(tt.config, tt.storage)
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewFactory_DiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := NewFactory(ProviderConfig{ClientID: "c", DiscoveryURL: srv.URL}, memory.NewTokenStorage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oidc new provider")
}

func TestClient_SignInWithPassword(t *testing.T) {
	idp := newTestIdP(t)
	storage := memory.NewTokenStorage()
	c := newTestClient(t, idp, storage)
	sub := c.Subscribe()

	sess, err := c.SignInWithPassword(context.Background(), domainauth.Credentials{Email: "ada@example.com", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "access-password", sess.AccessToken)
	assert.Equal(t, "user-1", sess.User.ID)
	assert.Equal(t, "ada@example.com", sess.User.Email)
	assert.Equal(t, "Ada Lovelace", sess.User.Metadata["full_name"])
	assert.Equal(t, 1, storage.Len())

	select {
	case ev := <-sub.Events():
		assert.Equal(t, domainauth.EventSignedIn, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("no SIGNED_IN event")
	}
}

func TestClient_SignInRejected(t *testing.T) {
	idp := newTestIdP(t)
	storage := memory.NewTokenStorage()
	c := newTestClient(t, idp, storage)

	_, err := c.SignInWithPassword(context.Background(), domainauth.Credentials{Email: "ada@example.com", Password: "wrong"})
	var perr *domainauth.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusUnauthorized, perr.Status)
	assert.Equal(t, "invalid_grant", perr.Code)
	assert.Equal(t, "Invalid user credentials", perr.Message)
	assert.Zero(t, storage.Len())
}

func TestClient_CurrentSessionRefreshes(t *testing.T) {
	idp := newTestIdP(t)
	storage := memory.NewTokenStorage()
	c := newTestClient(t, idp, storage)

	stored := testutil.NewSession().WithUser("user-1", "ada@example.com").ExpiresIn(10 * time.Second).Build()
	require.NoError(t, storage.Save(context.Background(), "visitor-1", stored))

	sess, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "access-refresh_token", sess.AccessToken)
	assert.Equal(t, "user-1", sess.User.ID, "identity carries over without an id_token")
}

func TestClient_CurrentSessionFresh(t *testing.T) {
	idp := newTestIdP(t)
	storage := memory.NewTokenStorage()
	c := newTestClient(t, idp, storage)

	require.NoError(t, storage.Save(context.Background(), "visitor-1", testutil.NewSession().Build()))

	sess, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-token", sess.AccessToken)
	assert.Zero(t, idp.tokenN.Load())
}

func TestClient_RejectedRefreshSignsOut(t *testing.T) {
	idp := newTestIdP(t)
	idp.rejectRefresh = true
	storage := memory.NewTokenStorage()
	c := newTestClient(t, idp, storage)
	sub := c.Subscribe()

	require.NoError(t, storage.Save(context.Background(), "visitor-1", testutil.NewSession().ExpiresIn(-time.Minute).Build()))

	sess, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Zero(t, storage.Len())
	ev := <-sub.Events()
	assert.Equal(t, domainauth.EventSignedOut, ev.Kind)
}

func TestClient_SignUpUnsupported(t *testing.T) {
	c := newTestClient(t, newTestIdP(t), memory.NewTokenStorage())

	_, err := c.SignUp(context.Background(), domainauth.Credentials{Email: "a@b.c", Password: "pw"})
	var perr *domainauth.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "signup_disabled", perr.Code)
}

func TestClient_SignOut(t *testing.T) {
	storage := memory.NewTokenStorage()
	c := newTestClient(t, newTestIdP(t), storage)
	sub := c.Subscribe()
	require.NoError(t, storage.Save(context.Background(), "visitor-1", testutil.NewSession().Build()))

	require.NoError(t, c.SignOut(context.Background()))
	assert.Zero(t, storage.Len())
	assert.Equal(t, domainauth.EventSignedOut, (<-sub.Events()).Kind)
}

func TestToProviderError(t *testing.T) {
	assert.Nil(t, toProviderError(errors.New("dial tcp: refused")))

	perr := toProviderError(&oauth2.RetrieveError{
		Response:  &http.Response{StatusCode: http.StatusBadRequest},
		ErrorCode: "invalid_grant",
	})
	require.NotNil(t, perr)
	assert.Equal(t, http.StatusBadRequest, perr.Status)
	assert.Equal(t, "invalid_grant", perr.Message)
}

func TestGetIDTokenFromToken(t *testing.T) {
	_, err := getIDTokenFromToken(nil)
	require.Error(t, err)

	_, err = getIDTokenFromToken(&oauth2.Token{AccessToken: "a"})
	require.Error(t, err)

	tok := (&oauth2.Token{AccessToken: "a"}).WithExtra(map[string]any{"id_token": "raw"})
	raw, err := getIDTokenFromToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "raw", raw)
}

func TestFillFromUserInfoClaims_KeepsIDTokenValues(t *testing.T) {
	f := idFields{userID: "from-id-token", email: "id@example.com"}
	fillFromUserInfoClaims(&f, UserInfo{Subject: "other", Email: "other@example.com", Name: "Ada", Groups: []string{"g"}})

	id := f.identity()
	assert.Equal(t, "from-id-token", id.ID)
	assert.Equal(t, "id@example.com", id.Email)
	assert.Equal(t, "Ada", id.Metadata["full_name"])
	assert.Equal(t, []string{"g"}, id.Metadata["groups"])
}
