package service_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/filipjov/askoro/internal/config"
	"github.com/filipjov/askoro/internal/pkg/confluence"
	infraerrors "github.com/filipjov/askoro/internal/pkg/errors"
	"github.com/filipjov/askoro/internal/pkg/github"
	"github.com/filipjov/askoro/internal/pkg/googledrive"
	"github.com/filipjov/askoro/internal/pkg/notion"
	"github.com/filipjov/askoro/internal/service"
	"github.com/filipjov/askoro/internal/testutil"
)

func newSyncFixture(t *testing.T) (*config.Config, *testutil.StubConnectionRepository, *testutil.StubObjectStore) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Sync.Workers = 2
	return cfg, testutil.NewStubConnectionRepository(), testutil.NewStubObjectStore("kb-bucket")
}

func newSyncService(cfg *config.Config, repo *testutil.StubConnectionRepository, store *testutil.StubObjectStore,
	gh *github.Client, cf *confluence.Client, nt *notion.Client, gd *googledrive.Client) *service.SyncService {
	if gh == nil {
		gh = github.NewClient()
	}
	if cf == nil {
		cf = confluence.NewClient()
	}
	if nt == nil {
		nt = notion.NewClient()
	}
	if gd == nil {
		gd = googledrive.NewClient(&oauth2.Config{})
	}
	return service.NewSyncService(cfg, repo, store, gh, cf, nt, gd)
}

func TestSyncGitHub(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/docs":
			fmt.Fprint(w, `{"default_branch":"main"}`)
		case "/repos/acme/docs/branches/main":
			fmt.Fprint(w, `{"commit":{"sha":"commit-1"}}`)
		case "/repos/acme/docs/git/commits/commit-1":
			fmt.Fprint(w, `{"tree":{"sha":"tree-1"}}`)
		case "/repos/acme/docs/git/trees/tree-1":
			fmt.Fprint(w, `{"tree":[
				{"path":"README.md","type":"blob","sha":"sha-readme"},
				{"path":"docs/guide.md","type":"blob","sha":"sha-guide"},
				{"path":"broken.md","type":"blob","sha":"sha-broken"},
				{"path":"docs","type":"tree","sha":"sha-dir"}
			]}`)
		case "/repos/acme/docs/contents/README.md":
			content := base64.StdEncoding.EncodeToString([]byte("# Acme docs"))
			fmt.Fprintf(w, `{"type":"file","encoding":"base64","content":"%s"}`, content)
		case "/repos/acme/docs/contents/broken.md":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	gh := github.NewClient()
	gh.APIBase = srv.URL

	cfg, repo, store := newSyncFixture(t)
	conn := testutil.NewTestConnection(testutil.WithTokens(github.Tokens{AccessToken: "gh-token"}))
	repo.Connections[conn.ID] = conn
	// Already stored objects are skipped without a fetch.
	store.Objects["user-1/github/acme/docs/docs/guide.md"] = testutil.StoredObject{}

	svc := newSyncService(cfg, repo, store, gh, nil, nil, nil)
	result, err := svc.Sync(context.Background(), service.ProviderGitHub, "user-1", "https://github.com/acme/docs")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Errors)

	obj, ok := store.Objects["user-1/github/acme/docs/README.md"]
	require.True(t, ok)
	assert.Equal(t, "# Acme docs", string(obj.Body))
	assert.Equal(t, "text/markdown", obj.ContentType)
	assert.Equal(t, "https://github.com/acme/docs/blob/main/README.md", obj.Metadata["quip-url"])
	assert.Equal(t, "github", obj.Metadata["source"])
	assert.Equal(t, "sha-readme", obj.Metadata["sha"])

	require.NotNil(t, repo.Get(conn.ID).LastSyncTime)
}

func TestSyncGitHubInvalidRepositoryURL(t *testing.T) {
	cfg, repo, store := newSyncFixture(t)
	svc := newSyncService(cfg, repo, store, nil, nil, nil, nil)

	_, err := svc.SyncGitHub(context.Background(), "user-1", "not a repo url")
	require.Error(t, err)
	assert.True(t, infraerrors.IsReason(err, infraerrors.ReasonInvalidLocator))
}

func TestSyncGitHubNotConnected(t *testing.T) {
	cfg, repo, store := newSyncFixture(t)
	svc := newSyncService(cfg, repo, store, nil, nil, nil, nil)

	_, err := svc.SyncGitHub(context.Background(), "user-1", "https://github.com/acme/docs")
	require.Error(t, err)
	assert.True(t, infraerrors.IsReason(err, infraerrors.ReasonNotConfigured))

	var appErr *infraerrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotFound, appErr.StatusCode)
}

func TestSyncUnsupportedProvider(t *testing.T) {
	cfg, repo, store := newSyncFixture(t)
	svc := newSyncService(cfg, repo, store, nil, nil, nil, nil)

	_, err := svc.Sync(context.Background(), service.ProviderQuip, "user-1", "https://acme.quip.com")
	require.Error(t, err)
	assert.True(t, infraerrors.IsReason(err, infraerrors.ReasonNotConfigured))
}

func TestSyncConfluenceRefreshesExpiredTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/oauth/token":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "refresh_token", body["grant_type"])
			require.Equal(t, "old-refresh", body["refresh_token"])
			// Atlassian may omit the refresh token on refresh.
			fmt.Fprint(w, `{"access_token":"new-access","expires_in":3600}`)
		case r.URL.Path == "/ex/confluence/cloud-1/wiki/rest/api/content":
			if r.Header.Get("Authorization") != "Bearer new-access" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"size":1,"limit":100,"start":0,"results":[{"id":"p1","title":"Runbook"}]}`)
		case r.URL.Path == "/ex/confluence/cloud-1/wiki/rest/api/content/p1":
			fmt.Fprint(w, `{"title":"Runbook","body":{"export_view":{"value":"<h1>Runbook</h1>"}}}`)
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cf := confluence.NewClient()
	cf.TokenURL = srv.URL + "/oauth/token"
	cf.APIBase = srv.URL

	cfg, repo, store := newSyncFixture(t)
	cfg.OAuth.Confluence = config.OAuthProviderConfig{ClientID: "cid", ClientSecret: "secret", RedirectURI: "https://app.example.com/cb"}

	conn := testutil.NewTestConnection(
		testutil.WithProvider(service.ProviderConfluence),
		testutil.WithRootFolderURL("https://acme.atlassian.net/wiki"),
		testutil.WithTokens(confluence.Tokens{AccessToken: "stale-access", RefreshToken: "old-refresh"}),
	)
	conn.Auth.CloudID = "cloud-1"
	conn.Auth.SiteBaseURL = "https://acme.atlassian.net"
	repo.Connections[conn.ID] = conn

	svc := newSyncService(cfg, repo, store, nil, cf, nil, nil)
	result, err := svc.Sync(context.Background(), service.ProviderConfluence, "user-1", "https://acme.atlassian.net/wiki")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Synced)
	assert.Zero(t, result.Errors)

	obj, ok := store.Objects["user-1/confluence/p1.html"]
	require.True(t, ok)
	assert.Equal(t, "<h1>Runbook</h1>", string(obj.Body))
	assert.Equal(t, "text/html", obj.ContentType)
	assert.Equal(t, "https://acme.atlassian.net/wiki/spaces", obj.Metadata["quip-url"])
	assert.Equal(t, "Runbook", obj.Metadata["page-title"])

	var stored confluence.Tokens
	require.NoError(t, repo.Get(conn.ID).Auth.DecodeTokens(&stored))
	assert.Equal(t, "new-access", stored.AccessToken)
	assert.Equal(t, "old-refresh", stored.RefreshToken, "refresh token survives a refresh response that omits it")
}

func TestSyncConfluenceWithoutRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cf := confluence.NewClient()
	cf.TokenURL = srv.URL + "/oauth/token"
	cf.APIBase = srv.URL

	cfg, repo, store := newSyncFixture(t)
	conn := testutil.NewTestConnection(
		testutil.WithProvider(service.ProviderConfluence),
		testutil.WithRootFolderURL("https://acme.atlassian.net/wiki"),
		testutil.WithTokens(confluence.Tokens{AccessToken: "stale-access"}),
	)
	conn.Auth.CloudID = "cloud-1"
	conn.Auth.SiteBaseURL = "https://acme.atlassian.net"
	repo.Connections[conn.ID] = conn

	svc := newSyncService(cfg, repo, store, nil, cf, nil, nil)
	_, err := svc.SyncConfluence(context.Background(), "user-1", "https://acme.atlassian.net/wiki")
	require.Error(t, err)
	assert.True(t, infraerrors.IsReason(err, infraerrors.ReasonRequiresAuthentication))

	auth := repo.Get(conn.ID).Auth
	assert.Equal(t, service.SyncStatusFailed, auth.LastSyncStatus)
	assert.Equal(t, "Requires Authentication", auth.LastSyncMessage)
	assert.Equal(t, "stale-access", mustDecodeConfluenceTokens(t, auth).AccessToken, "tokens stay untouched by the failure marker")
}

func mustDecodeConfluenceTokens(t *testing.T, auth *service.ConnectionAuth) confluence.Tokens {
	t.Helper()
	var tokens confluence.Tokens
	require.NoError(t, auth.DecodeTokens(&tokens))
	return tokens
}

func TestSyncConfluenceMissingSiteBinding(t *testing.T) {
	cfg, repo, store := newSyncFixture(t)
	conn := testutil.NewTestConnection(
		testutil.WithProvider(service.ProviderConfluence),
		testutil.WithRootFolderURL("https://acme.atlassian.net/wiki"),
		testutil.WithTokens(confluence.Tokens{AccessToken: "access"}),
	)
	repo.Connections[conn.ID] = conn

	svc := newSyncService(cfg, repo, store, nil, nil, nil, nil)
	_, err := svc.SyncConfluence(context.Background(), "user-1", "https://acme.atlassian.net/wiki")
	require.Error(t, err)
	assert.True(t, infraerrors.IsReason(err, infraerrors.ReasonNotConfigured))
}

func TestSyncNotion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			fmt.Fprint(w, `{"results":[
				{"object":"page","id":"page-1","url":"https://notion.so/page-1","last_edited_time":"2026-08-30T10:00:00.000Z",
				 "properties":{"Name":{"type":"title","title":[{"plain_text":"Team "},{"plain_text":"Wiki"}]}}}
			],"next_cursor":null}`)
		case "/blocks/page-1/children":
			fmt.Fprint(w, `{"results":[
				{"object":"block","id":"b1","type":"heading_1","has_children":false,"heading_1":{"rich_text":[{"plain_text":"Welcome"}]}},
				{"object":"block","id":"b2","type":"paragraph","has_children":false,"paragraph":{"rich_text":[{"plain_text":"Hello team."}]}}
			]}`)
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	nt := notion.NewClient()
	nt.APIBase = srv.URL

	cfg, repo, store := newSyncFixture(t)
	conn := testutil.NewTestConnection(
		testutil.WithProvider(service.ProviderNotion),
		testutil.WithRootFolderURL(service.RootAll),
		testutil.WithTokens(notion.Tokens{AccessToken: "ntn-token"}),
	)
	repo.Connections[conn.ID] = conn

	svc := newSyncService(cfg, repo, store, nil, nil, nt, nil)
	result, err := svc.Sync(context.Background(), service.ProviderNotion, "user-1", service.RootAll)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Synced)
	assert.Zero(t, result.Errors)

	obj, ok := store.Objects["user-1/notion/page-1.md"]
	require.True(t, ok)
	assert.Equal(t, "# Welcome\n\nHello team.", string(obj.Body))
	assert.Equal(t, "text/markdown", obj.ContentType)
	assert.Equal(t, "https://notion.so/page-1", obj.Metadata["quip-url"])
	assert.Equal(t, "Team Wiki", obj.Metadata["page-title"])
	assert.Equal(t, "notion", obj.Metadata["source"])
}

func TestSyncGoogleDrive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/files" && r.URL.Query().Get("q") != "":
			require.Contains(t, r.URL.Query().Get("q"), "'folder-1' in parents")
			fmt.Fprint(w, `{"files":[
				{"id":"doc-1","name":"Design Doc","mimeType":"application/vnd.google-apps.document"},
				{"id":"file-1","name":"notes.txt","mimeType":"text/plain","webViewLink":"https://drive.google.com/file/d/file-1/view"}
			]}`)
		case r.URL.Path == "/files/file-1" && r.URL.Query().Get("alt") == "media":
			fmt.Fprint(w, "meeting notes")
		case r.URL.Path == "/files/file-1":
			fmt.Fprint(w, `{"id":"file-1","name":"notes.txt","mimeType":"text/plain"}`)
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	gd := googledrive.NewClient(&oauth2.Config{
		ClientID: "cid",
		Endpoint: oauth2.Endpoint{TokenURL: srv.URL + "/token"},
	})
	gd.APIBase = srv.URL

	cfg, repo, store := newSyncFixture(t)
	rootURL := "https://drive.google.com/drive/folders/folder-1"
	conn := testutil.NewTestConnection(
		testutil.WithProvider(service.ProviderGoogleDrive),
		testutil.WithRootFolderURL(rootURL),
		testutil.WithTokens(googledrive.Tokens{
			AccessToken: "gd-token",
			ExpiryDate:  time.Now().Add(time.Hour).UnixMilli(),
		}),
	)
	repo.Connections[conn.ID] = conn

	svc := newSyncService(cfg, repo, store, nil, nil, nil, gd)
	result, err := svc.Sync(context.Background(), service.ProviderGoogleDrive, "user-1", rootURL)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Skipped, "workspace-native files are skipped")
	assert.Zero(t, result.Errors)

	obj, ok := store.Objects["user-1/google-drive/file-1/notes.txt"]
	require.True(t, ok)
	assert.Equal(t, "meeting notes", string(obj.Body))
	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Equal(t, "https://drive.google.com/file/d/file-1/view", obj.Metadata["quip-url"])
	assert.Equal(t, "google-drive", obj.Metadata["source"])
}

func TestSyncGoogleDriveUnrecognizedFolderSyncsUnscoped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/files" && r.URL.Query().Get("q") != "":
			require.Equal(t, "trashed = false", r.URL.Query().Get("q"), "unscoped listing has no parent constraint")
			fmt.Fprint(w, `{"files":[
				{"id":"file-1","name":"notes.txt","mimeType":"text/plain"}
			]}`)
		case r.URL.Path == "/files/file-1" && r.URL.Query().Get("alt") == "media":
			fmt.Fprint(w, "meeting notes")
		case r.URL.Path == "/files/file-1":
			fmt.Fprint(w, `{"id":"file-1","name":"notes.txt","mimeType":"text/plain"}`)
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	gd := googledrive.NewClient(&oauth2.Config{
		ClientID: "cid",
		Endpoint: oauth2.Endpoint{TokenURL: srv.URL + "/token"},
	})
	gd.APIBase = srv.URL

	cfg, repo, store := newSyncFixture(t)
	rootURL := "https://example.com/not-drive"
	conn := testutil.NewTestConnection(
		testutil.WithProvider(service.ProviderGoogleDrive),
		testutil.WithRootFolderURL(rootURL),
		testutil.WithTokens(googledrive.Tokens{
			AccessToken: "gd-token",
			ExpiryDate:  time.Now().Add(time.Hour).UnixMilli(),
		}),
	)
	repo.Connections[conn.ID] = conn

	svc := newSyncService(cfg, repo, store, nil, nil, nil, gd)
	result, err := svc.SyncGoogleDrive(context.Background(), "user-1", rootURL)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Synced)
	_, ok := store.Objects["user-1/google-drive/file-1/notes.txt"]
	assert.True(t, ok)
}

func TestMarkSyncFailed(t *testing.T) {
	cfg, repo, store := newSyncFixture(t)
	conn := testutil.NewTestConnection()
	repo.Connections[conn.ID] = conn

	svc := newSyncService(cfg, repo, store, nil, nil, nil, nil)
	svc.MarkSyncFailed(context.Background(), "user-1", service.ProviderGitHub, "https://github.com/acme/docs", "Requires Authentication")

	auth := repo.Get(conn.ID).Auth
	assert.Equal(t, service.SyncStatusFailed, auth.LastSyncStatus)
	assert.Equal(t, "Requires Authentication", auth.LastSyncMessage)
	assert.Equal(t, "https://github.com/acme/docs", auth.RootFolderURL, "merge keeps the existing locator")

	// Unknown connections are ignored.
	svc.MarkSyncFailed(context.Background(), "user-2", service.ProviderGitHub, "https://github.com/acme/docs", "boom")
	require.Len(t, repo.Connections, 1)
}
