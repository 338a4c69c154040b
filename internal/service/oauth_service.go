package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/filipjov/askoro/internal/config"
	"github.com/filipjov/askoro/internal/pkg/confluence"
	infraerrors "github.com/filipjov/askoro/internal/pkg/errors"
	"github.com/filipjov/askoro/internal/pkg/github"
	"github.com/filipjov/askoro/internal/pkg/googledrive"
	"github.com/filipjov/askoro/internal/pkg/logger"
	"github.com/filipjov/askoro/internal/pkg/notion"
	"github.com/filipjov/askoro/internal/pkg/oauthstate"
	"github.com/filipjov/askoro/internal/util/logredact"
	"github.com/filipjov/askoro/internal/util/urlvalidator"
)

const (
	quipAuthorizeEndpoint     = "https://platform.quip.com/1/oauth/login"
	onedriveAuthorizeEndpoint = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
)

// StartResult is the response of an OAuth start: the provider consent URL
// plus the opaque state round-tripped through it.
type StartResult struct {
	AuthorizeURL string `json:"authorizeUrl"`
	State        string `json:"state"`
	Nonce        string `json:"nonce"`
}

// CallbackOutcome is the terminal state of an OAuth callback, surfaced to
// the browser as a redirect to the data page.
type CallbackOutcome struct {
	Status  string
	Message string
}

// RedirectPath builds the data-page redirect carrying the outcome.
func (o CallbackOutcome) RedirectPath() string {
	path := "/data?status=" + o.Status
	if o.Message != "" {
		path += "&message=" + url.QueryEscape(o.Message)
	}
	return path
}

func callbackSuccess(p Provider) CallbackOutcome {
	return CallbackOutcome{Status: p.Segment() + "_success"}
}

func callbackFailure(p Provider, suffix, message string) CallbackOutcome {
	return CallbackOutcome{Status: p.Segment() + "_" + suffix, Message: message}
}

// OAuthService drives the provider OAuth flows: consent URL construction,
// code exchange, connection upsert and the post-callback background sync.
type OAuthService struct {
	cfg  *config.Config
	repo ConnectionRepository
	sync *SyncService

	github     *github.Client
	confluence *confluence.Client
	notion     *notion.Client
	drive      *googledrive.Client
}

func NewOAuthService(
	cfg *config.Config,
	repo ConnectionRepository,
	syncService *SyncService,
	githubClient *github.Client,
	confluenceClient *confluence.Client,
	notionClient *notion.Client,
	driveClient *googledrive.Client,
) *OAuthService {
	return &OAuthService{
		cfg:        cfg,
		repo:       repo,
		sync:       syncService,
		github:     githubClient,
		confluence: confluenceClient,
		notion:     notionClient,
		drive:      driveClient,
	}
}

// Start begins an OAuth flow for provider scoped to rootFolderURL. Google,
// Quip and OneDrive starts also record a pending connection carrying the
// state, so the scope survives until the callback.
func (s *OAuthService) Start(ctx context.Context, userID string, provider Provider, rootFolderURL string) (*StartResult, error) {
	normalized, err := urlvalidator.ValidateURLFormat(rootFolderURL, false)
	if err != nil {
		return nil, infraerrors.BadRequest(infraerrors.ReasonInvalidLocator, "a valid root folder URL is required").WithCause(err)
	}
	rootFolderURL = normalized

	nonce, err := oauthstate.NewNonce()
	if err != nil {
		return nil, infraerrors.Internal(infraerrors.ReasonInvalidState, "generating state nonce").WithCause(err)
	}
	state, err := oauthstate.Encode(oauthstate.Payload{Nonce: nonce, RootFolderURL: rootFolderURL})
	if err != nil {
		return nil, infraerrors.Internal(infraerrors.ReasonInvalidState, "encoding oauth state").WithCause(err)
	}

	var (
		authorizeURL  string
		recordPending bool
	)
	switch provider {
	case ProviderGitHub:
		oc, err := s.providerConfig(ProviderGitHub)
		if err != nil {
			return nil, err
		}
		authorizeURL = github.AuthorizeEndpoint + "?" + url.Values{
			"client_id":    {oc.ClientID},
			"redirect_uri": {oc.RedirectURI},
			"scope":        {oc.Scopes},
			"state":        {state},
		}.Encode()

	case ProviderConfluence:
		oc, err := s.providerConfig(ProviderConfluence)
		if err != nil {
			return nil, err
		}
		if confluence.ParseSiteURL(rootFolderURL) == nil {
			return nil, infraerrors.BadRequest(infraerrors.ReasonInvalidLocator, "rootFolderUrl must be a Confluence site or space URL")
		}
		authorizeURL = confluence.AuthorizeEndpoint + "?" + url.Values{
			"audience":      {"api.atlassian.com"},
			"client_id":     {oc.ClientID},
			"scope":         {oc.Scopes},
			"redirect_uri":  {oc.RedirectURI},
			"state":         {state},
			"response_type": {"code"},
			"prompt":        {"consent"},
		}.Encode()

	case ProviderNotion:
		oc, err := s.providerConfig(ProviderNotion)
		if err != nil {
			return nil, err
		}
		authorizeURL = notion.AuthorizeEndpoint + "?" + url.Values{
			"client_id":     {oc.ClientID},
			"redirect_uri":  {oc.RedirectURI},
			"response_type": {"code"},
			"owner":         {"user"},
			"state":         {state},
		}.Encode()

	case ProviderGoogleDrive:
		if _, err := s.providerConfig(ProviderGoogleDrive); err != nil {
			return nil, err
		}
		authorizeURL = s.drive.AuthCodeURL(state)
		recordPending = true

	case ProviderQuip:
		oc, err := s.providerConfig(ProviderQuip)
		if err != nil {
			return nil, err
		}
		authorizeURL = quipAuthorizeEndpoint + "?" + url.Values{
			"response_type": {"code"},
			"client_id":     {oc.ClientID},
			"redirect_uri":  {oc.RedirectURI},
			"scope":         {oc.Scopes},
			"state":         {state},
		}.Encode()
		recordPending = true

	case ProviderOneDrive:
		oc, err := s.providerConfig(ProviderOneDrive)
		if err != nil {
			return nil, err
		}
		authorizeURL = onedriveAuthorizeEndpoint + "?" + url.Values{
			"client_id":     {oc.ClientID},
			"response_type": {"code"},
			"redirect_uri":  {oc.RedirectURI},
			"scope":         {oc.Scopes},
			"response_mode": {"query"},
			"state":         {state},
		}.Encode()
		recordPending = true

	default:
		return nil, infraerrors.BadRequest(infraerrors.ReasonNotConfigured, fmt.Sprintf("unknown provider %s", provider))
	}

	if recordPending {
		if _, err := s.repo.Create(ctx, &Connection{
			UserID:   userID,
			Provider: provider,
			Auth:     &ConnectionAuth{State: state, RootFolderURL: rootFolderURL},
		}); err != nil {
			return nil, infraerrors.Internal(infraerrors.ReasonNotConfigured, "failed to persist data source metadata").WithCause(err)
		}
	}

	return &StartResult{AuthorizeURL: authorizeURL, State: state, Nonce: nonce}, nil
}

// providerConfig returns the provider's OAuth settings or a not-configured
// error when the application credentials are absent.
func (s *OAuthService) providerConfig(provider Provider) (config.OAuthProviderConfig, error) {
	var oc config.OAuthProviderConfig
	switch provider {
	case ProviderGitHub:
		oc = s.cfg.OAuth.GitHub
	case ProviderConfluence:
		oc = s.cfg.OAuth.Confluence
	case ProviderNotion:
		oc = s.cfg.OAuth.Notion
	case ProviderGoogleDrive:
		oc = s.cfg.OAuth.Google
	case ProviderQuip:
		oc = s.cfg.OAuth.Quip
	case ProviderOneDrive:
		oc = s.cfg.OAuth.OneDrive
	}
	if oc.ClientID == "" || oc.RedirectURI == "" {
		return oc, infraerrors.Internal(infraerrors.ReasonNotConfigured,
			fmt.Sprintf("server not configured for %s oauth", provider.Segment()))
	}
	return oc, nil
}

// HandleCallback processes a provider redirect. It never returns an error;
// every path maps to a data-page redirect outcome.
func (s *OAuthService) HandleCallback(ctx context.Context, userID string, provider Provider, code, state, providerErr string) CallbackOutcome {
	if providerErr != "" {
		logger.Warn("oauth provider returned error",
			zap.String("provider", provider.Segment()), zap.String("error", providerErr))
		return callbackFailure(provider, "error", "")
	}
	if code == "" || state == "" {
		return callbackFailure(provider, "missing_params", "")
	}

	payload, err := oauthstate.Decode(state)
	if err != nil {
		return callbackFailure(provider, "exchange_failed", "Invalid state parameter")
	}

	overlay, err := s.exchange(ctx, provider, code, state, payload)
	if err != nil {
		logger.Error("oauth code exchange failed",
			zap.String("provider", provider.Segment()),
			zap.String("error", logredact.RedactText(err.Error())))
		return callbackFailure(provider, "exchange_failed", infraerrors.FromError(err).Message)
	}

	if err := s.upsertConnection(ctx, userID, provider, payload.RootFolderURL, overlay); err != nil {
		logger.Error("storing oauth connection failed",
			zap.String("provider", provider.Segment()), zap.Error(err))
		return callbackFailure(provider, "exchange_failed", "failed to store connection")
	}

	s.startBackgroundSync(userID, provider, payload.RootFolderURL)
	return callbackSuccess(provider)
}

// exchange trades the authorization code and builds the auth overlay to
// store on the connection.
func (s *OAuthService) exchange(ctx context.Context, provider Provider, code, state string, payload oauthstate.Payload) (*ConnectionAuth, error) {
	overlay := &ConnectionAuth{
		State:          state,
		Nonce:          payload.Nonce,
		RootFolderURL:  payload.RootFolderURL,
		LastSyncStatus: SyncStatusSuccess,
	}

	switch provider {
	case ProviderGitHub:
		oc, err := s.providerConfig(ProviderGitHub)
		if err != nil {
			return nil, err
		}
		tokens, err := s.github.ExchangeCode(ctx, oc.ClientID, oc.ClientSecret, code, oc.RedirectURI)
		if err != nil {
			return nil, err
		}
		overlay.Tokens, err = EncodeTokens(tokens)
		return overlay, err

	case ProviderConfluence:
		oc, err := s.providerConfig(ProviderConfluence)
		if err != nil {
			return nil, err
		}
		tokens, err := s.confluence.ExchangeCode(ctx, oc.ClientID, oc.ClientSecret, code, oc.RedirectURI)
		if err != nil {
			return nil, err
		}
		resource, err := s.pickResource(ctx, tokens.AccessToken, payload.RootFolderURL)
		if err != nil {
			return nil, err
		}
		overlay.CloudID = resource.ID
		overlay.SiteBaseURL = resource.URL
		overlay.Tokens, err = EncodeTokens(tokens)
		return overlay, err

	case ProviderNotion:
		oc, err := s.providerConfig(ProviderNotion)
		if err != nil {
			return nil, err
		}
		tokens, err := s.notion.ExchangeCode(ctx, oc.ClientID, oc.ClientSecret, code, oc.RedirectURI)
		if err != nil {
			return nil, err
		}
		overlay.Tokens, err = EncodeTokens(tokens)
		return overlay, err

	case ProviderGoogleDrive:
		tokens, err := s.drive.Exchange(ctx, code)
		if err != nil {
			return nil, err
		}
		overlay.Tokens, err = EncodeTokens(tokens)
		return overlay, err

	default:
		return nil, infraerrors.BadRequest(infraerrors.ReasonNotConfigured,
			fmt.Sprintf("callback not supported for %s", provider))
	}
}

// pickResource chooses the Atlassian cloud site matching the requested root
// URL, falling back to the first accessible one.
func (s *OAuthService) pickResource(ctx context.Context, accessToken, rootFolderURL string) (*confluence.AccessibleResource, error) {
	resources, err := s.confluence.AccessibleResources(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if len(resources) == 0 {
		return nil, infraerrors.BadRequest(infraerrors.ReasonOAuthExchangeFailed,
			"no accessible Confluence resource found for this account")
	}
	if parsed := confluence.ParseSiteURL(rootFolderURL); parsed != nil {
		for i := range resources {
			if strings.HasPrefix(resources[i].URL, parsed.SiteBaseURL) {
				return &resources[i], nil
			}
		}
	}
	return &resources[0], nil
}

// upsertConnection inserts or merge-updates the scoped connection with the
// exchanged credentials and stamps the sync time.
func (s *OAuthService) upsertConnection(ctx context.Context, userID string, provider Provider, rootFolderURL string, overlay *ConnectionAuth) error {
	now := time.Now().UTC()
	existing, err := s.repo.GetByUserProviderAndRoot(ctx, userID, provider, rootFolderURL)
	if err != nil {
		return err
	}
	if existing == nil {
		_, err := s.repo.Create(ctx, &Connection{
			UserID:       userID,
			Provider:     provider,
			Auth:         overlay,
			LastSyncTime: &now,
		})
		return err
	}
	return s.repo.Update(ctx, existing.ID, ConnectionUpdate{
		Auth:         existing.Auth.Merge(overlay),
		LastSyncTime: &now,
	})
}

// startBackgroundSync kicks off the initial sync without blocking the
// callback redirect. Failures are swallowed after marking the connection.
func (s *OAuthService) startBackgroundSync(userID string, provider Provider, rootFolderURL string) {
	go func() {
		ctx := context.Background()
		if _, err := s.sync.Sync(ctx, provider, userID, rootFolderURL); err != nil {
			logger.Error("post-oauth sync failed",
				zap.String("provider", provider.Segment()),
				zap.String("user_id", userID),
				zap.Error(err))
			message := ""
			if provider == ProviderConfluence {
				message = "Requires Authentication"
			}
			s.sync.MarkSyncFailed(ctx, userID, provider, rootFolderURL, message)
		}
	}()
}
