// Package confluence wraps the Atlassian OAuth and Confluence Cloud content
// APIs: token exchange/refresh, accessible-resource discovery, paged page
// listing and export-view HTML fetch.
package confluence

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/imroc/req/v3"

	infraerrors "github.com/filipjov/askoro/internal/pkg/errors"
)

// AuthorizeEndpoint is the browser-facing OAuth authorization URL.
const AuthorizeEndpoint = "https://auth.atlassian.com/authorize"

const (
	defaultTokenURL = "https://auth.atlassian.com/oauth/token"
	defaultAPIBase  = "https://api.atlassian.com"

	listPageLimit = 100
)

// Tokens is the Atlassian three-legged OAuth credential set.
type Tokens struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// Locator is the canonical scope parsed from a site or space URL.
type Locator struct {
	SiteBaseURL string
	SpaceKey    string // empty means the whole site
}

// AccessibleResource is one Atlassian cloud site the token can reach.
type AccessibleResource struct {
	ID     string   `json:"id"` // cloud id
	URL    string   `json:"url"`
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

// Page is one Confluence page from a content listing.
type Page struct {
	ID      string
	Title   string
	WebLink string
}

var spacePathPattern = regexp.MustCompile(`/spaces/([^/]+)`)

// ParseSiteURL parses a Confluence site or space URL. It returns nil on
// unparseable input.
func ParseSiteURL(raw string) *Locator {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}
	loc := &Locator{SiteBaseURL: u.Scheme + "://" + u.Host}
	if m := spacePathPattern.FindStringSubmatch(u.Path); m != nil {
		loc.SpaceKey = m[1]
	}
	return loc
}

// Client talks to the Atlassian APIs. TokenURL and APIBase are overridable
// for tests.
type Client struct {
	TokenURL string
	APIBase  string

	http *req.Client
}

// NewClient creates a Confluence API client.
func NewClient() *Client {
	return &Client{
		TokenURL: defaultTokenURL,
		APIBase:  defaultAPIBase,
		http:     req.C().SetTimeout(60 * time.Second),
	}
}

// ExchangeCode exchanges an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*Tokens, error) {
	return c.tokenRequest(ctx, map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     clientID,
		"client_secret": clientSecret,
		"code":          code,
		"redirect_uri":  redirectURI,
	}, infraerrors.ReasonOAuthExchangeFailed)
}

// RefreshTokens swaps a refresh token for a fresh token set.
func (c *Client) RefreshTokens(ctx context.Context, clientID, clientSecret, refreshToken, redirectURI string) (*Tokens, error) {
	return c.tokenRequest(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     clientID,
		"client_secret": clientSecret,
		"refresh_token": refreshToken,
		"redirect_uri":  redirectURI,
	}, infraerrors.ReasonOAuthRefreshFailed)
}

func (c *Client) tokenRequest(ctx context.Context, body map[string]string, reason string) (*Tokens, error) {
	var tokens Tokens
	resp, err := c.http.R().
		SetContext(ctx).
		SetBodyJsonMarshal(body).
		SetSuccessResult(&tokens).
		Post(c.TokenURL)
	if err != nil {
		return nil, infraerrors.Newf(http.StatusBadGateway, reason, "confluence token request failed: %v", err)
	}
	if !resp.IsSuccessState() {
		return nil, infraerrors.Newf(http.StatusBadGateway, reason, "confluence token endpoint: status %d, body: %s", resp.StatusCode, resp.String())
	}
	if tokens.AccessToken == "" {
		return nil, infraerrors.New(http.StatusBadGateway, reason, "no access token received from Confluence")
	}
	return &tokens, nil
}

// AccessibleResources lists the cloud sites reachable with the token.
func (c *Client) AccessibleResources(ctx context.Context, accessToken string) ([]AccessibleResource, error) {
	var resources []AccessibleResource
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+accessToken).
		SetSuccessResult(&resources).
		Get(c.APIBase + "/oauth/token/accessible-resources")
	if err != nil {
		return nil, infraerrors.Newf(http.StatusBadGateway, infraerrors.ReasonOAuthExchangeFailed, "accessible-resources request failed: %v", err)
	}
	if !resp.IsSuccessState() {
		return nil, infraerrors.Newf(http.StatusBadGateway, infraerrors.ReasonOAuthExchangeFailed, "accessible-resources: status %d, body: %s", resp.StatusCode, resp.String())
	}
	return resources, nil
}

type contentListResponse struct {
	Size    int `json:"size"`
	Limit   int `json:"limit"`
	Start   int `json:"start"`
	Results []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Links struct {
			WebUI string `json:"webui"`
			Base  string `json:"base"`
		} `json:"_links"`
	} `json:"results"`
}

// ListPages pages through the site's content listing, optionally scoped to a
// space key, until the listing is exhausted.
func (c *Client) ListPages(ctx context.Context, accessToken, cloudID, spaceKey string) ([]Page, error) {
	params := url.Values{}
	params.Set("expand", "body.export_view,version,space,history")
	params.Set("limit", fmt.Sprintf("%d", listPageLimit))
	params.Set("type", "page")
	if spaceKey != "" {
		params.Set("spaceKey", spaceKey)
	}

	base := fmt.Sprintf("%s/ex/confluence/%s/wiki/rest/api/content", c.APIBase, cloudID)

	var pages []Page
	start := 0
	for {
		var data contentListResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bearer "+accessToken).
			SetSuccessResult(&data).
			Get(fmt.Sprintf("%s?%s&start=%d", base, params.Encode(), start))
		if err != nil {
			return nil, infraerrors.Newf(http.StatusBadGateway, infraerrors.ReasonProviderListFailed, "confluence list content failed: %v", err)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, infraerrors.Newf(http.StatusUnauthorized, infraerrors.ReasonRequiresAuthentication, "confluence list content: status %d", resp.StatusCode)
		}
		if !resp.IsSuccessState() {
			return nil, infraerrors.Newf(http.StatusBadGateway, infraerrors.ReasonProviderListFailed, "confluence list content: status %d, body: %s", resp.StatusCode, resp.String())
		}

		for _, item := range data.Results {
			webLink := ""
			if item.Links.Base != "" && item.Links.WebUI != "" {
				webLink = item.Links.Base + item.Links.WebUI
			}
			pages = append(pages, Page{ID: item.ID, Title: item.Title, WebLink: webLink})
		}
		if data.Size < data.Limit {
			break
		}
		start = data.Start + data.Limit
	}
	return pages, nil
}

// PageHTML fetches one page's export-view HTML rendering.
func (c *Client) PageHTML(ctx context.Context, accessToken, cloudID, pageID string) (html, title, webLink string, err error) {
	var data struct {
		Title string `json:"title"`
		Body  struct {
			ExportView struct {
				Value string `json:"value"`
			} `json:"export_view"`
		} `json:"body"`
		Links struct {
			WebUI string `json:"webui"`
			Base  string `json:"base"`
		} `json:"_links"`
	}

	endpoint := fmt.Sprintf("%s/ex/confluence/%s/wiki/rest/api/content/%s?expand=body.export_view,version,space,_links", c.APIBase, cloudID, pageID)
	resp, reqErr := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+accessToken).
		SetSuccessResult(&data).
		Get(endpoint)
	if reqErr != nil {
		return "", "", "", fmt.Errorf("confluence get content %s: %w", pageID, reqErr)
	}
	if !resp.IsSuccessState() {
		return "", "", "", fmt.Errorf("confluence get content %s: status %d, body: %s", pageID, resp.StatusCode, resp.String())
	}

	title = data.Title
	if title == "" {
		title = pageID
	}
	if data.Links.Base != "" && data.Links.WebUI != "" {
		webLink = data.Links.Base + data.Links.WebUI
	}
	return data.Body.ExportView.Value, title, webLink, nil
}
