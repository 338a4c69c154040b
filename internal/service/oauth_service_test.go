package service_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/filipjov/askoro/internal/config"
	"github.com/filipjov/askoro/internal/pkg/confluence"
	infraerrors "github.com/filipjov/askoro/internal/pkg/errors"
	"github.com/filipjov/askoro/internal/pkg/github"
	"github.com/filipjov/askoro/internal/pkg/notion"
	"github.com/filipjov/askoro/internal/pkg/googledrive"
	"github.com/filipjov/askoro/internal/pkg/oauthstate"
	"github.com/filipjov/askoro/internal/service"
	"github.com/filipjov/askoro/internal/testutil"
)

func newOAuthFixture() (*config.Config, *testutil.StubConnectionRepository) {
	cfg := &config.Config{}
	cfg.Sync.Workers = 1
	return cfg, testutil.NewStubConnectionRepository()
}

func newOAuthService(cfg *config.Config, repo *testutil.StubConnectionRepository,
	gh *github.Client, gd *googledrive.Client) *service.OAuthService {
	if gh == nil {
		gh = github.NewClient()
	}
	if gd == nil {
		gd = googledrive.NewClient(&oauth2.Config{})
	}
	cf := confluence.NewClient()
	nt := notion.NewClient()
	store := testutil.NewStubObjectStore("kb-bucket")
	syncSvc := service.NewSyncService(cfg, repo, store, gh, cf, nt, gd)
	return service.NewOAuthService(cfg, repo, syncSvc, gh, cf, nt, gd)
}

func TestStartGitHub(t *testing.T) {
	cfg, repo := newOAuthFixture()
	cfg.OAuth.GitHub = config.OAuthProviderConfig{
		ClientID:    "gh-client",
		RedirectURI: "https://app.example.com/api/github/oauth/callback",
		Scopes:      "repo read:org",
	}

	svc := newOAuthService(cfg, repo, nil, nil)
	result, err := svc.Start(context.Background(), "user-1", service.ProviderGitHub, "https://github.com/acme/docs/")
	require.NoError(t, err)

	parsed, err := url.Parse(result.AuthorizeURL)
	require.NoError(t, err)
	assert.Equal(t, "github.com", parsed.Host)
	assert.Equal(t, "/login/oauth/authorize", parsed.Path)

	q := parsed.Query()
	assert.Equal(t, "gh-client", q.Get("client_id"))
	assert.Equal(t, "https://app.example.com/api/github/oauth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "repo read:org", q.Get("scope"))
	assert.Equal(t, result.State, q.Get("state"))

	payload, err := oauthstate.Decode(result.State)
	require.NoError(t, err)
	assert.Equal(t, result.Nonce, payload.Nonce)
	assert.Equal(t, "https://github.com/acme/docs", payload.RootFolderURL, "trailing slash is stripped")

	// GitHub carries all context in the state, no pending row is written.
	assert.Empty(t, repo.Connections)
}

func TestStartRejectsInvalidRootURL(t *testing.T) {
	cfg, repo := newOAuthFixture()
	cfg.OAuth.GitHub = config.OAuthProviderConfig{ClientID: "c", RedirectURI: "https://cb"}
	svc := newOAuthService(cfg, repo, nil, nil)

	for _, raw := range []string{"", "not a url", "ftp://example.com/x", "http://example.com/x"} {
		_, err := svc.Start(context.Background(), "user-1", service.ProviderGitHub, raw)
		require.Error(t, err, raw)
		assert.True(t, infraerrors.IsReason(err, infraerrors.ReasonInvalidLocator), raw)
	}
}

func TestStartNotConfigured(t *testing.T) {
	cfg, repo := newOAuthFixture()
	svc := newOAuthService(cfg, repo, nil, nil)

	_, err := svc.Start(context.Background(), "user-1", service.ProviderGitHub, "https://github.com/acme/docs")
	require.Error(t, err)
	assert.True(t, infraerrors.IsReason(err, infraerrors.ReasonNotConfigured))
}

func TestStartConfluence(t *testing.T) {
	cfg, repo := newOAuthFixture()
	cfg.OAuth.Confluence = config.OAuthProviderConfig{
		ClientID:    "cf-client",
		RedirectURI: "https://app.example.com/api/confluence/oauth/callback",
		Scopes:      "read:confluence-content.all offline_access",
	}

	svc := newOAuthService(cfg, repo, nil, nil)
	result, err := svc.Start(context.Background(), "user-1", service.ProviderConfluence, "https://acme.atlassian.net/wiki/spaces/ENG")
	require.NoError(t, err)

	parsed, err := url.Parse(result.AuthorizeURL)
	require.NoError(t, err)
	assert.Equal(t, "auth.atlassian.com", parsed.Host)

	q := parsed.Query()
	assert.Equal(t, "api.atlassian.com", q.Get("audience"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, result.State, q.Get("state"))
}

func TestStartQuipRecordsPendingConnection(t *testing.T) {
	cfg, repo := newOAuthFixture()
	cfg.OAuth.Quip = config.OAuthProviderConfig{
		ClientID:    "quip-client",
		RedirectURI: "https://app.example.com/api/quip/oauth/callback",
	}

	svc := newOAuthService(cfg, repo, nil, nil)
	result, err := svc.Start(context.Background(), "user-1", service.ProviderQuip, "https://acme.quip.com/folder/abc")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.AuthorizeURL, "https://platform.quip.com/1/oauth/login?"))

	require.Len(t, repo.Connections, 1)
	pending, err := repo.GetByUserAndProvider(context.Background(), "user-1", service.ProviderQuip)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, result.State, pending.Auth.State)
	assert.Equal(t, "https://acme.quip.com/folder/abc", pending.Auth.RootFolderURL)
}

func TestStartGoogleDriveRecordsPendingConnection(t *testing.T) {
	cfg, repo := newOAuthFixture()
	cfg.OAuth.Google = config.OAuthProviderConfig{
		ClientID:    "google-client",
		RedirectURI: "https://app.example.com/api/google-drive/oauth/callback",
	}
	gd := googledrive.NewClient(&oauth2.Config{
		ClientID:    "google-client",
		RedirectURL: "https://app.example.com/api/google-drive/oauth/callback",
		Endpoint:    oauth2.Endpoint{AuthURL: "https://accounts.google.com/o/oauth2/auth"},
	})

	svc := newOAuthService(cfg, repo, nil, gd)
	result, err := svc.Start(context.Background(), "user-1", service.ProviderGoogleDrive, "https://drive.google.com/drive/folders/folder-1")
	require.NoError(t, err)

	parsed, err := url.Parse(result.AuthorizeURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, result.State, q.Get("state"))

	require.Len(t, repo.Connections, 1)
}

func TestCallbackOutcomeRedirectPath(t *testing.T) {
	outcome := service.CallbackOutcome{Status: "github_success"}
	assert.Equal(t, "/data?status=github_success", outcome.RedirectPath())

	outcome = service.CallbackOutcome{Status: "github_exchange_failed", Message: "Invalid state parameter"}
	assert.Equal(t, "/data?status=github_exchange_failed&message=Invalid+state+parameter", outcome.RedirectPath())
}

func TestHandleCallbackProviderError(t *testing.T) {
	cfg, repo := newOAuthFixture()
	svc := newOAuthService(cfg, repo, nil, nil)

	outcome := svc.HandleCallback(context.Background(), "user-1", service.ProviderGitHub, "", "", "access_denied")
	assert.Equal(t, "github_error", outcome.Status)
	assert.Empty(t, outcome.Message)
}

func TestHandleCallbackMissingParams(t *testing.T) {
	cfg, repo := newOAuthFixture()
	svc := newOAuthService(cfg, repo, nil, nil)

	outcome := svc.HandleCallback(context.Background(), "user-1", service.ProviderNotion, "", "some-state", "")
	assert.Equal(t, "notion_missing_params", outcome.Status)

	outcome = svc.HandleCallback(context.Background(), "user-1", service.ProviderNotion, "some-code", "", "")
	assert.Equal(t, "notion_missing_params", outcome.Status)
}

func TestHandleCallbackInvalidState(t *testing.T) {
	cfg, repo := newOAuthFixture()
	svc := newOAuthService(cfg, repo, nil, nil)

	outcome := svc.HandleCallback(context.Background(), "user-1", service.ProviderGitHub, "code", "%%%not-state", "")
	assert.Equal(t, "github_exchange_failed", outcome.Status)
	assert.Equal(t, "Invalid state parameter", outcome.Message)
}

func TestHandleCallbackGitHubSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login/oauth/access_token" {
			fmt.Fprint(w, `{"access_token":"gh-token","token_type":"bearer"}`)
			return
		}
		// Background sync requests may land here, they are not under test.
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	gh := github.NewClient()
	gh.TokenURL = srv.URL + "/login/oauth/access_token"
	gh.APIBase = srv.URL

	cfg, repo := newOAuthFixture()
	cfg.OAuth.GitHub = config.OAuthProviderConfig{ClientID: "c", ClientSecret: "s", RedirectURI: "https://cb"}

	state, err := oauthstate.Encode(oauthstate.Payload{Nonce: "nonce-1", RootFolderURL: "https://github.com/acme/docs"})
	require.NoError(t, err)

	svc := newOAuthService(cfg, repo, gh, nil)
	outcome := svc.HandleCallback(context.Background(), "user-1", service.ProviderGitHub, "auth-code", state, "")
	assert.Equal(t, "github_success", outcome.Status)

	conn, err := repo.GetByUserProviderAndRoot(context.Background(), "user-1", service.ProviderGitHub, "https://github.com/acme/docs")
	require.NoError(t, err)
	require.NotNil(t, conn)
	require.NotNil(t, conn.LastSyncTime)

	var tokens github.Tokens
	require.NoError(t, conn.Auth.DecodeTokens(&tokens))
	assert.Equal(t, "gh-token", tokens.AccessToken)
}

func TestHandleCallbackExchangeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"bad_verification_code","error_description":"The code is incorrect or expired."}`)
	}))
	defer srv.Close()

	gh := github.NewClient()
	gh.TokenURL = srv.URL + "/login/oauth/access_token"

	cfg, repo := newOAuthFixture()
	cfg.OAuth.GitHub = config.OAuthProviderConfig{ClientID: "c", ClientSecret: "s", RedirectURI: "https://cb"}

	state, err := oauthstate.Encode(oauthstate.Payload{Nonce: "nonce-1", RootFolderURL: "https://github.com/acme/docs"})
	require.NoError(t, err)

	svc := newOAuthService(cfg, repo, gh, nil)
	outcome := svc.HandleCallback(context.Background(), "user-1", service.ProviderGitHub, "expired-code", state, "")
	assert.Equal(t, "github_exchange_failed", outcome.Status)
	assert.Contains(t, outcome.Message, "incorrect or expired")
	assert.Empty(t, repo.Connections, "failed exchanges store nothing")
}

func TestHandleCallbackGoogleDriveMergesPendingConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"gd-token","refresh_token":"gd-refresh","token_type":"Bearer","expires_in":3600}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	gd := googledrive.NewClient(&oauth2.Config{
		ClientID:     "google-client",
		ClientSecret: "google-secret",
		Endpoint:     oauth2.Endpoint{TokenURL: srv.URL + "/token"},
	})
	gd.APIBase = srv.URL

	cfg, repo := newOAuthFixture()
	cfg.OAuth.Google = config.OAuthProviderConfig{ClientID: "google-client", RedirectURI: "https://cb"}

	rootURL := "https://drive.google.com/drive/folders/folder-1"
	state, err := oauthstate.Encode(oauthstate.Payload{Nonce: "nonce-1", RootFolderURL: rootURL})
	require.NoError(t, err)

	pending := testutil.NewTestConnection(
		testutil.WithProvider(service.ProviderGoogleDrive),
		testutil.WithRootFolderURL(rootURL),
	)
	pending.Auth.State = state
	pending.CreatedAt = time.Now().UTC()
	repo.Connections[pending.ID] = pending

	svc := newOAuthService(cfg, repo, nil, gd)
	outcome := svc.HandleCallback(context.Background(), "user-1", service.ProviderGoogleDrive, "auth-code", state, "")
	assert.Equal(t, "google-drive_success", outcome.Status)

	// The pending row is updated in place, not duplicated.
	require.Len(t, repo.Connections, 1)
	conn, err := repo.GetByUserProviderAndRoot(context.Background(), "user-1", service.ProviderGoogleDrive, rootURL)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, pending.ID, conn.ID)

	var tokens googledrive.Tokens
	require.NoError(t, conn.Auth.DecodeTokens(&tokens))
	assert.Equal(t, "gd-token", tokens.AccessToken)
	assert.Equal(t, "gd-refresh", tokens.RefreshToken)
}
