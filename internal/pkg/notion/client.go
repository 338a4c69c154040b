package notion

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/imroc/req/v3"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	infraerrors "github.com/filipjov/askoro/internal/pkg/errors"
)

// AuthorizeEndpoint is the browser-facing OAuth authorization URL.
const AuthorizeEndpoint = "https://api.notion.com/v1/oauth/authorize"

const (
	defaultTokenURL = "https://api.notion.com/v1/oauth/token"
	defaultAPIBase  = "https://api.notion.com/v1"

	apiVersion = "2022-06-28"
)

// Tokens is the credential set returned by a Notion token exchange. Notion
// tokens do not expire and carry no refresh token.
type Tokens struct {
	AccessToken   string `json:"access_token,omitempty"`
	TokenType     string `json:"token_type,omitempty"`
	BotID         string `json:"bot_id,omitempty"`
	WorkspaceName string `json:"workspace_name,omitempty"`
	WorkspaceIcon string `json:"workspace_icon,omitempty"`
}

// Page is one Notion page from a listing.
type Page struct {
	ID           string
	URL          string
	Title        string
	LastEdited   string
	ParentType   string
	ParentPageID string
}

// Client talks to the Notion integration API. TokenURL and APIBase are
// overridable for tests.
type Client struct {
	TokenURL string
	APIBase  string

	http *req.Client
}

func NewClient() *Client {
	return &Client{
		TokenURL: defaultTokenURL,
		APIBase:  defaultAPIBase,
		http: req.C().
			SetTimeout(60 * time.Second).
			SetCommonHeader("Notion-Version", apiVersion),
	}
}

type tokenResponse struct {
	AccessToken   string `json:"access_token"`
	TokenType     string `json:"token_type"`
	BotID         string `json:"bot_id"`
	WorkspaceName string `json:"workspace_name"`
	WorkspaceIcon string `json:"workspace_icon"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeCode trades an authorization code for an access token. Notion
// authenticates the exchange with HTTP basic auth on the integration
// credentials.
func (c *Client) ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*Tokens, error) {
	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(clientID, clientSecret).
		SetBody(map[string]string{
			"grant_type":   "authorization_code",
			"code":         code,
			"redirect_uri": redirectURI,
		}).
		SetSuccessResult(&out).
		SetErrorResult(&out).
		Post(c.TokenURL)
	if err != nil {
		return nil, infraerrors.BadGateway(infraerrors.ReasonOAuthExchangeFailed, "notion token request failed").WithCause(err)
	}
	if out.Error != "" {
		msg := out.ErrorDescription
		if msg == "" {
			msg = out.Error
		}
		return nil, infraerrors.BadGateway(infraerrors.ReasonOAuthExchangeFailed, msg)
	}
	if !resp.IsSuccessState() {
		return nil, infraerrors.BadGateway(infraerrors.ReasonOAuthExchangeFailed,
			fmt.Sprintf("notion token endpoint returned %d", resp.StatusCode))
	}
	if out.AccessToken == "" {
		return nil, infraerrors.BadGateway(infraerrors.ReasonOAuthExchangeFailed, "no access token received from notion")
	}
	tokenType := out.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return &Tokens{
		AccessToken:   out.AccessToken,
		TokenType:     tokenType,
		BotID:         out.BotID,
		WorkspaceName: out.WorkspaceName,
		WorkspaceIcon: out.WorkspaceIcon,
	}, nil
}

// searchBody asks for pages only, most recently edited first.
const searchBody = `{"filter":{"property":"object","value":"page"},"sort":{"direction":"descending","timestamp":"last_edited_time"}}`

// ListPages enumerates the pages in scope. A database locator queries the
// database; a page locator returns the page itself plus its direct child
// pages found via search; a nil locator searches everything the integration
// can reach.
func (c *Client) ListPages(ctx context.Context, accessToken string, loc *Locator) ([]Page, error) {
	switch {
	case loc != nil && loc.DatabaseID != "":
		return c.queryDatabase(ctx, accessToken, loc.DatabaseID)
	case loc != nil && loc.PageID != "":
		root, err := c.getPage(ctx, accessToken, loc.PageID)
		if err != nil {
			return nil, err
		}
		children, err := c.searchPages(ctx, accessToken, loc.PageID)
		if err != nil {
			return nil, err
		}
		return append([]Page{root}, children...), nil
	default:
		return c.searchPages(ctx, accessToken, "")
	}
}

func (c *Client) queryDatabase(ctx context.Context, accessToken, databaseID string) ([]Page, error) {
	return c.collectPaged(ctx, accessToken, c.APIBase+"/databases/"+databaseID+"/query", "{}")
}

// searchPages lists pages via the search endpoint. When parentPageID is set,
// results are filtered to direct children of that page; search has no
// server-side parent filter.
func (c *Client) searchPages(ctx context.Context, accessToken, parentPageID string) ([]Page, error) {
	pages, err := c.collectPaged(ctx, accessToken, c.APIBase+"/search", searchBody)
	if err != nil {
		return nil, err
	}
	if parentPageID == "" {
		return pages, nil
	}
	var filtered []Page
	for _, p := range pages {
		if p.ParentType == "page_id" && p.ParentPageID == parentPageID {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// collectPaged walks a cursor-paged POST endpoint, patching start_cursor
// into the base body between calls.
func (c *Client) collectPaged(ctx context.Context, accessToken, endpoint, baseBody string) ([]Page, error) {
	var pages []Page
	body := baseBody
	for {
		raw, err := c.post(ctx, accessToken, endpoint, body)
		if err != nil {
			return nil, err
		}
		for _, result := range raw.Get("results").Array() {
			pages = append(pages, pageFromJSON(result))
		}
		cursor := raw.Get("next_cursor")
		if cursor.Type != gjson.String || cursor.String() == "" {
			return pages, nil
		}
		body, err = sjson.Set(baseBody, "start_cursor", cursor.String())
		if err != nil {
			return nil, infraerrors.Internal(infraerrors.ReasonProviderListFailed, "building paged request body").WithCause(err)
		}
	}
}

func (c *Client) getPage(ctx context.Context, accessToken, pageID string) (Page, error) {
	raw, err := c.get(ctx, accessToken, c.APIBase+"/pages/"+pageID)
	if err != nil {
		return Page{}, err
	}
	return pageFromJSON(raw), nil
}

// pageFromJSON builds a Page from a page object. The title is the
// concatenated plain text of the title-type property, or "Untitled".
func pageFromJSON(raw gjson.Result) Page {
	page := Page{
		ID:           raw.Get("id").String(),
		URL:          raw.Get("url").String(),
		Title:        "Untitled",
		LastEdited:   raw.Get("last_edited_time").String(),
		ParentType:   raw.Get("parent.type").String(),
		ParentPageID: raw.Get("parent.page_id").String(),
	}
	raw.Get("properties").ForEach(func(_, prop gjson.Result) bool {
		if prop.Get("type").String() != "title" {
			return true
		}
		var title string
		for _, run := range prop.Get("title").Array() {
			title += run.Get("plain_text").String()
		}
		page.Title = title
		return false
	})
	return page
}

// PageBlocks fetches a page's complete block tree. Children of nested
// blocks are fetched breadth-first off an explicit queue, one paged
// children call per block that reports has_children.
func (c *Client) PageBlocks(ctx context.Context, accessToken, pageID string) ([]*Block, error) {
	roots, err := c.blockChildren(ctx, accessToken, pageID)
	if err != nil {
		return nil, err
	}
	queue := append([]*Block(nil), roots...)
	for len(queue) > 0 {
		block := queue[0]
		queue = queue[1:]
		if !block.HasChildren {
			continue
		}
		children, err := c.blockChildren(ctx, accessToken, block.ID)
		if err != nil {
			return nil, err
		}
		block.Children = children
		queue = append(queue, children...)
	}
	return roots, nil
}

// PageContent fetches and renders a page's block tree as text.
func (c *Client) PageContent(ctx context.Context, accessToken, pageID string) (string, error) {
	blocks, err := c.PageBlocks(ctx, accessToken, pageID)
	if err != nil {
		return "", err
	}
	return RenderBlocks(blocks), nil
}

// blockChildren fetches one block's direct children across all cursor pages.
func (c *Client) blockChildren(ctx context.Context, accessToken, blockID string) ([]*Block, error) {
	var blocks []*Block
	endpoint := c.APIBase + "/blocks/" + blockID + "/children"
	cursor := ""
	for {
		target := endpoint
		if cursor != "" {
			target += "?start_cursor=" + cursor
		}
		raw, err := c.get(ctx, accessToken, target)
		if err != nil {
			return nil, err
		}
		for _, result := range raw.Get("results").Array() {
			blocks = append(blocks, blockFromJSON(result))
		}
		next := raw.Get("next_cursor")
		if next.Type != gjson.String || next.String() == "" {
			return blocks, nil
		}
		cursor = next.String()
	}
}

func (c *Client) get(ctx context.Context, accessToken, url string) (gjson.Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBearerAuthToken(accessToken).
		Get(url)
	return checkResponse(resp, err)
}

func (c *Client) post(ctx context.Context, accessToken, url, body string) (gjson.Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBearerAuthToken(accessToken).
		SetContentType("application/json").
		SetBodyString(body).
		Post(url)
	return checkResponse(resp, err)
}

func checkResponse(resp *req.Response, err error) (gjson.Result, error) {
	if err != nil {
		return gjson.Result{}, infraerrors.BadGateway(infraerrors.ReasonProviderListFailed, "notion request failed").WithCause(err)
	}
	if !resp.IsSuccessState() {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return gjson.Result{}, infraerrors.Unauthorized(infraerrors.ReasonRequiresAuthentication, "notion rejected the access token")
		}
		return gjson.Result{}, infraerrors.BadGateway(infraerrors.ReasonProviderListFailed,
			fmt.Sprintf("notion api returned %d: %s", resp.StatusCode, resp.String()))
	}
	return gjson.Parse(resp.String()), nil
}
