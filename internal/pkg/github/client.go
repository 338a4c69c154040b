// Package github wraps the GitHub OAuth and REST APIs used by the sync
// subsystem: token exchange, recursive tree listing and file download.
package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imroc/req/v3"

	infraerrors "github.com/filipjov/askoro/internal/pkg/errors"
)

// AuthorizeEndpoint is the browser-facing OAuth authorization URL.
const AuthorizeEndpoint = "https://github.com/login/oauth/authorize"

const (
	defaultTokenURL = "https://github.com/login/oauth/access_token"
	defaultAPIBase  = "https://api.github.com"
)

// Tokens is the credential set returned by the token endpoint. GitHub OAuth
// apps do not issue refresh tokens for this grant.
type Tokens struct {
	AccessToken string `json:"access_token,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// TreeEntry is one file in a repository tree listing.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// Client talks to the GitHub API. TokenURL and APIBase are overridable for
// tests.
type Client struct {
	TokenURL string
	APIBase  string

	http *req.Client
}

// NewClient creates a GitHub API client.
func NewClient() *Client {
	return &Client{
		TokenURL: defaultTokenURL,
		APIBase:  defaultAPIBase,
		http:     req.C().SetTimeout(60 * time.Second),
	}
}

// ExchangeCode exchanges an authorization code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*Tokens, error) {
	var tokenResp struct {
		Tokens
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetBodyJsonMarshal(map[string]string{
			"client_id":     clientID,
			"client_secret": clientSecret,
			"code":          code,
			"redirect_uri":  redirectURI,
		}).
		SetSuccessResult(&tokenResp).
		Post(c.TokenURL)
	if err != nil {
		return nil, infraerrors.Newf(http.StatusBadGateway, infraerrors.ReasonOAuthExchangeFailed, "github token request failed: %v", err)
	}
	if !resp.IsSuccessState() {
		return nil, infraerrors.Newf(http.StatusBadGateway, infraerrors.ReasonOAuthExchangeFailed, "github token exchange failed: status %d, body: %s", resp.StatusCode, resp.String())
	}
	if tokenResp.Error != "" {
		msg := tokenResp.ErrorDescription
		if msg == "" {
			msg = tokenResp.Error
		}
		return nil, infraerrors.New(http.StatusBadGateway, infraerrors.ReasonOAuthExchangeFailed, msg)
	}
	if tokenResp.AccessToken == "" {
		return nil, infraerrors.New(http.StatusBadGateway, infraerrors.ReasonOAuthExchangeFailed, "no access token received from GitHub")
	}
	if tokenResp.TokenType == "" {
		tokenResp.TokenType = "bearer"
	}
	return &tokenResp.Tokens, nil
}

// ListFiles returns every file (blob) reachable under loc, filtered to the
// locator path prefix when one is set. The repository default branch is
// resolved when loc.Branch is empty.
func (c *Client) ListFiles(ctx context.Context, accessToken string, loc Locator) ([]TreeEntry, error) {
	branch := loc.Branch
	if branch == "" {
		var repoData struct {
			DefaultBranch string `json:"default_branch"`
		}
		if err := c.get(ctx, accessToken, fmt.Sprintf("/repos/%s/%s", loc.Owner, loc.Repo), &repoData); err != nil {
			return nil, err
		}
		branch = repoData.DefaultBranch
	}

	var branchData struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := c.get(ctx, accessToken, fmt.Sprintf("/repos/%s/%s/branches/%s", loc.Owner, loc.Repo, url.PathEscape(branch)), &branchData); err != nil {
		return nil, err
	}

	var commitData struct {
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	if err := c.get(ctx, accessToken, fmt.Sprintf("/repos/%s/%s/git/commits/%s", loc.Owner, loc.Repo, branchData.Commit.SHA), &commitData); err != nil {
		return nil, err
	}

	var treeData struct {
		Tree []TreeEntry `json:"tree"`
	}
	if err := c.get(ctx, accessToken, fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", loc.Owner, loc.Repo, commitData.Tree.SHA), &treeData); err != nil {
		return nil, err
	}

	files := make([]TreeEntry, 0, len(treeData.Tree))
	prefix := ""
	if loc.Path != "" {
		prefix = loc.Path
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
	}
	for _, entry := range treeData.Tree {
		if entry.Type != "blob" || entry.Path == "" || entry.SHA == "" {
			continue
		}
		if prefix != "" && !strings.HasPrefix(entry.Path, prefix) {
			continue
		}
		files = append(files, entry)
	}
	return files, nil
}

// DownloadFile fetches one file's raw bytes via the contents API. GitHub
// serves blob content base64-encoded.
func (c *Client) DownloadFile(ctx context.Context, accessToken string, loc Locator, path string) ([]byte, string, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/contents/%s", loc.Owner, loc.Repo, escapePath(path))
	if loc.Branch != "" {
		endpoint += "?ref=" + url.QueryEscape(loc.Branch)
	}

	var contentData struct {
		Type     string `json:"type"`
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
		SHA      string `json:"sha"`
	}
	if err := c.get(ctx, accessToken, endpoint, &contentData); err != nil {
		return nil, "", err
	}
	if contentData.Type != "file" {
		return nil, "", fmt.Errorf("github path %q is not a file", path)
	}
	if contentData.Encoding != "base64" || contentData.Content == "" {
		return nil, "", fmt.Errorf("github file %q has unsupported encoding %q", path, contentData.Encoding)
	}

	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(contentData.Content, "\n", ""))
	if err != nil {
		return nil, "", fmt.Errorf("decode github file %q: %w", path, err)
	}
	return data, contentData.SHA, nil
}

func (c *Client) get(ctx context.Context, accessToken, endpoint string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+accessToken).
		SetHeader("Accept", "application/vnd.github+json").
		SetSuccessResult(out).
		Get(c.APIBase + endpoint)
	if err != nil {
		return infraerrors.Newf(http.StatusBadGateway, infraerrors.ReasonProviderListFailed, "github request failed: %v", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return infraerrors.Unauthorized(infraerrors.ReasonRequiresAuthentication, "Requires Authentication")
	}
	if !resp.IsSuccessState() {
		return infraerrors.Newf(http.StatusBadGateway, infraerrors.ReasonProviderListFailed, "github api %s: status %d, body: %s", endpoint, resp.StatusCode, resp.String())
	}
	return nil
}

// escapePath escapes each segment of a repository path while keeping the
// separators.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
