// Package googledrive wraps the Drive v3 REST API behind an injected OAuth
// config. Access tokens are refreshed through the oauth2 token source;
// rotated tokens are reported back through a persist callback so stored
// credentials stay current.
package googledrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	infraerrors "github.com/filipjov/askoro/internal/pkg/errors"
)

const (
	defaultAPIBase = "https://www.googleapis.com/drive/v3"

	// RootFolderID is the Drive alias for the account's whole drive.
	RootFolderID = "root"

	// workspaceMimePrefix marks Docs/Sheets/Slides files, which cannot be
	// downloaded with alt=media and need export conversion instead.
	workspaceMimePrefix = "application/vnd.google-apps."

	// FolderMimeType is the Drive folder MIME type.
	FolderMimeType = "application/vnd.google-apps.folder"
)

// Tokens is the stored Google credential set. ExpiryDate is unix
// milliseconds, matching what Google's token endpoint hands back.
type Tokens struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiryDate   int64  `json:"expiry_date,omitempty"`
}

func (t *Tokens) oauth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}
	if t.ExpiryDate > 0 {
		tok.Expiry = time.UnixMilli(t.ExpiryDate)
	}
	return tok
}

func tokensFromOAuth2(tok *oauth2.Token, previous *Tokens) *Tokens {
	out := &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		out.ExpiryDate = tok.Expiry.UnixMilli()
	}
	// Google omits the refresh token on refresh responses; keep the old one.
	if out.RefreshToken == "" && previous != nil {
		out.RefreshToken = previous.RefreshToken
	}
	if previous != nil {
		out.Scope = previous.Scope
	}
	return out
}

// File is one Drive file or folder from a listing.
type File struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	WebViewLink string `json:"webViewLink"`
}

// IsWorkspaceFile reports whether the file is a Google Workspace document
// (Docs, Sheets, Slides, or a folder). Those are skipped during sync.
func (f File) IsWorkspaceFile() bool {
	return strings.HasPrefix(f.MimeType, workspaceMimePrefix)
}

// PersistFunc receives refreshed tokens so the caller can store them.
type PersistFunc func(ctx context.Context, updated *Tokens) error

// Client talks to the Drive API with an explicit OAuth config. APIBase is
// overridable for tests.
type Client struct {
	APIBase string

	oauth *oauth2.Config
}

func NewClient(oauth *oauth2.Config) *Client {
	return &Client{APIBase: defaultAPIBase, oauth: oauth}
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code string) (*Tokens, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, infraerrors.BadGateway(infraerrors.ReasonOAuthExchangeFailed, "google token exchange failed").WithCause(err)
	}
	return tokensFromOAuth2(tok, nil), nil
}

// AuthCodeURL builds the consent URL carrying the opaque state, requesting
// offline access so a refresh token is issued.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// httpClient builds an authenticated client for tokens. When the token
// source rotates the access token, persist is invoked with the new set
// before the request proceeds.
func (c *Client) httpClient(ctx context.Context, tokens *Tokens, persist PersistFunc) *http.Client {
	src := c.oauth.TokenSource(ctx, tokens.oauth2Token())
	return oauth2.NewClient(ctx, &persistingSource{
		ctx:      ctx,
		src:      oauth2.ReuseTokenSource(tokens.oauth2Token(), src),
		previous: tokens,
		persist:  persist,
	})
}

type persistingSource struct {
	ctx      context.Context
	src      oauth2.TokenSource
	previous *Tokens
	persist  PersistFunc
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	if p.persist != nil && tok.AccessToken != p.previous.AccessToken {
		updated := tokensFromOAuth2(tok, p.previous)
		if err := p.persist(p.ctx, updated); err != nil {
			return nil, err
		}
		p.previous = updated
	}
	return tok, nil
}

// ListFiles enumerates non-trashed files under folderID. RootFolderID lists
// the whole drive without a parent constraint.
func (c *Client) ListFiles(ctx context.Context, tokens *Tokens, persist PersistFunc, folderID string) ([]File, error) {
	q := "trashed = false"
	if folderID != "" && folderID != RootFolderID {
		q = fmt.Sprintf("'%s' in parents and trashed = false", folderID)
	}
	return c.list(ctx, tokens, persist, q)
}

// ListFolders enumerates all non-trashed folders the grant can see.
func (c *Client) ListFolders(ctx context.Context, tokens *Tokens, persist PersistFunc) ([]File, error) {
	return c.list(ctx, tokens, persist, fmt.Sprintf("mimeType = '%s' and trashed = false", FolderMimeType))
}

type listResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Files         []File `json:"files"`
}

func (c *Client) list(ctx context.Context, tokens *Tokens, persist PersistFunc, query string) ([]File, error) {
	httpc := c.httpClient(ctx, tokens, persist)

	var files []File
	pageToken := ""
	for {
		params := url.Values{}
		params.Set("q", query)
		params.Set("fields", "nextPageToken, files(id, name, mimeType, webViewLink)")
		params.Set("pageSize", "100")
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page listResponse
		if err := getJSON(ctx, httpc, c.APIBase+"/files?"+params.Encode(), &page); err != nil {
			return nil, err
		}
		files = append(files, page.Files...)
		if page.NextPageToken == "" {
			return files, nil
		}
		pageToken = page.NextPageToken
	}
}

// Download fetches a file's raw content plus its name and MIME type.
func (c *Client) Download(ctx context.Context, tokens *Tokens, persist PersistFunc, fileID string) (data []byte, name, mimeType string, err error) {
	httpc := c.httpClient(ctx, tokens, persist)

	var meta File
	metaURL := c.APIBase + "/files/" + url.PathEscape(fileID) + "?fields=" + url.QueryEscape("id, name, mimeType")
	if err := getJSON(ctx, httpc, metaURL, &meta); err != nil {
		return nil, "", "", err
	}

	resp, err := doGet(ctx, httpc, c.APIBase+"/files/"+url.PathEscape(fileID)+"?alt=media")
	if err != nil {
		return nil, "", "", err
	}
	defer resp.Body.Close()

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", "", infraerrors.BadGateway(infraerrors.ReasonUpstreamFailed, "reading drive file body").WithCause(err)
	}
	return data, meta.Name, meta.MimeType, nil
}

func getJSON(ctx context.Context, httpc *http.Client, target string, out any) error {
	resp, err := doGet(ctx, httpc, target)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return infraerrors.BadGateway(infraerrors.ReasonUpstreamFailed, "decoding drive response").WithCause(err)
	}
	return nil
}

func doGet(ctx context.Context, httpc *http.Client, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, infraerrors.Internal(infraerrors.ReasonUpstreamFailed, "building drive request").WithCause(err)
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return nil, infraerrors.BadGateway(infraerrors.ReasonUpstreamFailed, "drive request failed").WithCause(err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, infraerrors.Unauthorized(infraerrors.ReasonRequiresAuthentication, "google rejected the access token")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, infraerrors.BadGateway(infraerrors.ReasonUpstreamFailed,
			fmt.Sprintf("drive api returned %d: %s", resp.StatusCode, string(body)))
	}
	return resp, nil
}
