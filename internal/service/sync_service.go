package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/filipjov/askoro/internal/config"
	"github.com/filipjov/askoro/internal/pkg/confluence"
	infraerrors "github.com/filipjov/askoro/internal/pkg/errors"
	"github.com/filipjov/askoro/internal/pkg/github"
	"github.com/filipjov/askoro/internal/pkg/googledrive"
	"github.com/filipjov/askoro/internal/pkg/logger"
	"github.com/filipjov/askoro/internal/pkg/notion"
	"github.com/filipjov/askoro/internal/util/logredact"
)

// RootAll is the sentinel root folder value meaning "everything the grant
// can reach" for Notion and Google Drive.
const RootAll = "all"

// SyncResult reports one sync run. Per-document failures are counted, not
// fatal.
type SyncResult struct {
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// syncDocument is one unit of work for the orchestrator: an object key plus
// a fetch closure producing the body, content type and object metadata.
// Skip marks documents counted as skipped without fetching.
type syncDocument struct {
	key   string
	name  string
	skip  bool
	fetch func(ctx context.Context) (body []byte, contentType string, metadata map[string]string, err error)
}

// SyncService runs provider syncs: list the documents in scope, skip the
// ones already stored, fetch and upload the rest.
type SyncService struct {
	cfg   *config.Config
	repo  ConnectionRepository
	store ObjectStore

	github     *github.Client
	confluence *confluence.Client
	notion     *notion.Client
	drive      *googledrive.Client
}

func NewSyncService(
	cfg *config.Config,
	repo ConnectionRepository,
	store ObjectStore,
	githubClient *github.Client,
	confluenceClient *confluence.Client,
	notionClient *notion.Client,
	driveClient *googledrive.Client,
) *SyncService {
	return &SyncService{
		cfg:        cfg,
		repo:       repo,
		store:      store,
		github:     githubClient,
		confluence: confluenceClient,
		notion:     notionClient,
		drive:      driveClient,
	}
}

// Sync dispatches to the provider-specific sync.
func (s *SyncService) Sync(ctx context.Context, provider Provider, userID, rootFolderURL string) (*SyncResult, error) {
	switch provider {
	case ProviderGitHub:
		return s.SyncGitHub(ctx, userID, rootFolderURL)
	case ProviderConfluence:
		return s.SyncConfluence(ctx, userID, rootFolderURL)
	case ProviderNotion:
		return s.SyncNotion(ctx, userID, rootFolderURL)
	case ProviderGoogleDrive:
		return s.SyncGoogleDrive(ctx, userID, rootFolderURL)
	default:
		return nil, infraerrors.BadRequest(infraerrors.ReasonNotConfigured, fmt.Sprintf("sync not supported for %s", provider))
	}
}

// SyncGitHub syncs every file of the repository scope into the knowledge
// base under {userId}/github/{owner}/{repo}/{path}.
func (s *SyncService) SyncGitHub(ctx context.Context, userID, rootFolderURL string) (*SyncResult, error) {
	loc := github.ParseRepoURL(rootFolderURL)
	if loc == nil {
		return nil, infraerrors.BadRequest(infraerrors.ReasonInvalidLocator, fmt.Sprintf("invalid github repository url: %s", rootFolderURL))
	}

	conn, err := s.connection(ctx, userID, ProviderGitHub, rootFolderURL)
	if err != nil {
		return nil, err
	}
	var tokens github.Tokens
	if err := conn.Auth.DecodeTokens(&tokens); err != nil || tokens.AccessToken == "" {
		return nil, infraerrors.BadRequest(infraerrors.ReasonNotConfigured, "github connection has no tokens")
	}

	files, err := s.github.ListFiles(ctx, tokens.AccessToken, *loc)
	if err != nil {
		return nil, err
	}
	logger.Info("listed github files",
		zap.String("user_id", userID),
		zap.String("repo", loc.Owner+"/"+loc.Repo),
		zap.Int("count", len(files)))

	branch := loc.Branch
	if branch == "" {
		branch = "main"
	}

	docs := make([]syncDocument, 0, len(files))
	for _, file := range files {
		file := file
		docs = append(docs, syncDocument{
			key:  fmt.Sprintf("%s/github/%s/%s/%s", userID, loc.Owner, loc.Repo, file.Path),
			name: file.Path,
			fetch: func(ctx context.Context) ([]byte, string, map[string]string, error) {
				data, _, err := s.github.DownloadFile(ctx, tokens.AccessToken, *loc, file.Path)
				if err != nil {
					return nil, "", nil, err
				}
				permalink := fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s", loc.Owner, loc.Repo, branch, file.Path)
				return data, github.ContentTypeForPath(file.Path), map[string]string{
					"quip-url": permalink,
					"source":   "github",
					"owner":    loc.Owner,
					"repo":     loc.Repo,
					"path":     file.Path,
					"sha":      file.SHA,
				}, nil
			},
		})
	}

	result := s.run(ctx, ProviderGitHub, docs)
	s.finalize(ctx, conn.ID)
	return result, nil
}

// SyncConfluence syncs the pages of a site or space into the knowledge base
// under {userId}/confluence/{pageId}.html. A failed listing is retried once
// after a token refresh; a failed refresh surfaces as a reauthentication
// error and marks the connection failed.
func (s *SyncService) SyncConfluence(ctx context.Context, userID, rootFolderURL string) (*SyncResult, error) {
	conn, err := s.connection(ctx, userID, ProviderConfluence, rootFolderURL)
	if err != nil {
		return nil, err
	}
	var tokens confluence.Tokens
	if err := conn.Auth.DecodeTokens(&tokens); err != nil ||
		tokens.AccessToken == "" || conn.Auth.CloudID == "" || conn.Auth.SiteBaseURL == "" {
		return nil, infraerrors.BadRequest(infraerrors.ReasonNotConfigured, "confluence connection is missing tokens or site binding")
	}

	spaceKey := ""
	if loc := confluence.ParseSiteURL(rootFolderURL); loc != nil {
		spaceKey = loc.SpaceKey
	}

	pages, err := s.confluence.ListPages(ctx, tokens.AccessToken, conn.Auth.CloudID, spaceKey)
	if err != nil {
		pages, tokens, err = s.refreshAndRelist(ctx, conn, tokens, spaceKey)
		if err != nil {
			s.markSyncFailed(ctx, conn, "Requires Authentication")
			return nil, err
		}
	}
	logger.Info("listed confluence pages",
		zap.String("user_id", userID),
		zap.String("cloud_id", conn.Auth.CloudID),
		zap.Int("count", len(pages)))

	siteBaseURL := conn.Auth.SiteBaseURL
	accessToken := tokens.AccessToken
	docs := make([]syncDocument, 0, len(pages))
	for _, page := range pages {
		page := page
		docs = append(docs, syncDocument{
			key:  fmt.Sprintf("%s/confluence/%s.html", userID, page.ID),
			name: page.Title,
			fetch: func(ctx context.Context) ([]byte, string, map[string]string, error) {
				html, _, _, err := s.confluence.PageHTML(ctx, accessToken, conn.Auth.CloudID, page.ID)
				if err != nil {
					return nil, "", nil, err
				}
				permalink := page.WebLink
				if permalink == "" {
					permalink = siteBaseURL + "/wiki/spaces"
				}
				return []byte(html), "text/html", map[string]string{
					"quip-url":   permalink,
					"source":     "confluence",
					"page-id":    page.ID,
					"page-title": page.Title,
				}, nil
			},
		})
	}

	result := s.run(ctx, ProviderConfluence, docs)
	s.finalize(ctx, conn.ID)
	return result, nil
}

// refreshAndRelist refreshes the Atlassian tokens, persists them, and
// retries the listing exactly once.
func (s *SyncService) refreshAndRelist(ctx context.Context, conn *Connection, tokens confluence.Tokens, spaceKey string) ([]confluence.Page, confluence.Tokens, error) {
	reauth := infraerrors.Unauthorized(infraerrors.ReasonRequiresAuthentication, "Requires Authentication")
	if tokens.RefreshToken == "" {
		return nil, tokens, reauth
	}

	oauthCfg := s.cfg.OAuth.Confluence
	refreshed, err := s.confluence.RefreshTokens(ctx, oauthCfg.ClientID, oauthCfg.ClientSecret, tokens.RefreshToken, oauthCfg.RedirectURI)
	if err != nil {
		logger.Warn("confluence token refresh failed", zap.String("connection_id", conn.ID), zap.Error(err))
		return nil, tokens, reauth
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}

	raw, err := EncodeTokens(refreshed)
	if err != nil {
		return nil, tokens, reauth
	}
	if err := s.repo.Update(ctx, conn.ID, ConnectionUpdate{Auth: conn.Auth.Merge(&ConnectionAuth{Tokens: raw})}); err != nil {
		logger.Warn("persisting refreshed confluence tokens failed", zap.String("connection_id", conn.ID), zap.Error(err))
	}

	pages, err := s.confluence.ListPages(ctx, refreshed.AccessToken, conn.Auth.CloudID, spaceKey)
	if err != nil {
		return nil, tokens, reauth
	}
	return pages, *refreshed, nil
}

// SyncNotion syncs pages as rendered markdown into the knowledge base under
// {userId}/notion/{pageId}.md. The "all" sentinel and unparseable roots
// fall back to an unscoped search.
func (s *SyncService) SyncNotion(ctx context.Context, userID, rootFolderURL string) (*SyncResult, error) {
	var loc *notion.Locator
	if rootFolderURL != RootAll {
		loc = notion.ParseURL(rootFolderURL)
	}

	conn, err := s.connection(ctx, userID, ProviderNotion, rootFolderURL)
	if err != nil {
		return nil, err
	}
	var tokens notion.Tokens
	if err := conn.Auth.DecodeTokens(&tokens); err != nil || tokens.AccessToken == "" {
		return nil, infraerrors.BadRequest(infraerrors.ReasonNotConfigured, "notion connection has no tokens")
	}

	pages, err := s.notion.ListPages(ctx, tokens.AccessToken, loc)
	if err != nil {
		return nil, err
	}
	logger.Info("listed notion pages", zap.String("user_id", userID), zap.Int("count", len(pages)))

	docs := make([]syncDocument, 0, len(pages))
	for _, page := range pages {
		page := page
		docs = append(docs, syncDocument{
			key:  fmt.Sprintf("%s/notion/%s.md", userID, page.ID),
			name: page.Title,
			fetch: func(ctx context.Context) ([]byte, string, map[string]string, error) {
				content, err := s.notion.PageContent(ctx, tokens.AccessToken, page.ID)
				if err != nil {
					return nil, "", nil, err
				}
				return []byte(content), "text/markdown", map[string]string{
					"quip-url":    page.URL,
					"source":      "notion",
					"page-id":     page.ID,
					"page-title":  page.Title,
					"last-edited": page.LastEdited,
				}, nil
			},
		})
	}

	result := s.run(ctx, ProviderNotion, docs)
	s.finalize(ctx, conn.ID)
	return result, nil
}

// SyncGoogleDrive syncs the files under the selected folder into the
// knowledge base under {userId}/google-drive/{fileId}/{fileName}.
// Workspace-native files (Docs, Sheets, Slides, folders) are counted as
// skipped without a fetch.
func (s *SyncService) SyncGoogleDrive(ctx context.Context, userID, rootFolderURL string) (*SyncResult, error) {
	folderID := googledrive.FolderIDFromURL(rootFolderURL)
	if folderID == "" {
		// An unrecognized folder location falls back to an unscoped
		// listing of everything the grant can see.
		logger.Warn("google drive folder not recognized, syncing unscoped",
			zap.String("user_id", userID),
			zap.String("root_folder_url", rootFolderURL))
	}

	conn, err := s.connection(ctx, userID, ProviderGoogleDrive, rootFolderURL)
	if err != nil {
		return nil, err
	}
	tokens := &googledrive.Tokens{}
	if err := conn.Auth.DecodeTokens(tokens); err != nil || tokens.AccessToken == "" {
		return nil, infraerrors.BadRequest(infraerrors.ReasonNotConfigured, "google drive connection has no tokens")
	}
	persist := s.drivePersistFunc(conn)

	files, err := s.drive.ListFiles(ctx, tokens, persist, folderID)
	if err != nil {
		return nil, err
	}
	logger.Info("listed google drive files",
		zap.String("user_id", userID),
		zap.String("folder_id", folderID),
		zap.Int("count", len(files)))

	docs := make([]syncDocument, 0, len(files))
	for _, file := range files {
		file := file
		if file.ID == "" || file.Name == "" {
			continue
		}
		doc := syncDocument{
			key:  fmt.Sprintf("%s/google-drive/%s/%s", userID, file.ID, file.Name),
			name: file.Name,
			skip: file.IsWorkspaceFile(),
		}
		doc.fetch = func(ctx context.Context) ([]byte, string, map[string]string, error) {
			data, _, mimeType, err := s.drive.Download(ctx, tokens, persist, file.ID)
			if err != nil {
				return nil, "", nil, err
			}
			metadata := map[string]string{
				"source":  "google-drive",
				"file-id": file.ID,
			}
			if file.WebViewLink != "" {
				metadata["quip-url"] = file.WebViewLink
			}
			return data, mimeType, metadata, nil
		}
		docs = append(docs, doc)
	}

	result := s.run(ctx, ProviderGoogleDrive, docs)
	s.finalize(ctx, conn.ID)
	return result, nil
}

// drivePersistFunc stores rotated Google tokens on the connection.
func (s *SyncService) drivePersistFunc(conn *Connection) googledrive.PersistFunc {
	return func(ctx context.Context, updated *googledrive.Tokens) error {
		raw, err := EncodeTokens(updated)
		if err != nil {
			return err
		}
		if err := s.repo.Update(ctx, conn.ID, ConnectionUpdate{Auth: conn.Auth.Merge(&ConnectionAuth{Tokens: raw})}); err != nil {
			logger.Warn("persisting refreshed google tokens failed", zap.String("connection_id", conn.ID), zap.Error(err))
		}
		return nil
	}
}

// connection loads the scoped connection or reports it unconfigured.
func (s *SyncService) connection(ctx context.Context, userID string, provider Provider, rootFolderURL string) (*Connection, error) {
	conn, err := s.repo.GetByUserProviderAndRoot(ctx, userID, provider, rootFolderURL)
	if err != nil {
		return nil, err
	}
	if conn == nil || conn.Auth == nil {
		return nil, infraerrors.NotFound(infraerrors.ReasonNotConfigured,
			fmt.Sprintf("%s data source not found or not configured", provider.Segment()))
	}
	return conn, nil
}

// run executes the exists/fetch/upload loop over docs on a bounded worker
// pool. Per-document failures are logged and counted; the loop never aborts.
func (s *SyncService) run(ctx context.Context, provider Provider, docs []syncDocument) *SyncResult {
	workers := s.cfg.Sync.Workers
	if workers < 1 {
		workers = 1
	}
	pool := pond.NewPool(workers)

	var synced, skipped, failed atomic.Int64
	for _, doc := range docs {
		doc := doc
		pool.Submit(func() {
			if doc.skip {
				skipped.Add(1)
				return
			}
			exists, err := s.store.Exists(ctx, doc.key)
			if err != nil {
				failed.Add(1)
				logger.Error("existence check failed", zap.String("provider", provider.Segment()), zap.String("key", doc.key), zap.Error(err))
				return
			}
			if exists {
				skipped.Add(1)
				return
			}
			body, contentType, metadata, err := doc.fetch(ctx)
			if err != nil {
				failed.Add(1)
				logger.Error("document fetch failed",
					zap.String("provider", provider.Segment()),
					zap.String("name", doc.name),
					zap.String("error", logredact.RedactText(err.Error())))
				return
			}
			if err := s.store.Put(ctx, doc.key, body, contentType, metadata); err != nil {
				failed.Add(1)
				logger.Error("document upload failed", zap.String("provider", provider.Segment()), zap.String("key", doc.key), zap.Error(err))
				return
			}
			synced.Add(1)
		})
	}
	pool.StopAndWait()

	return &SyncResult{
		Synced:  int(synced.Load()),
		Skipped: int(skipped.Load()),
		Errors:  int(failed.Load()),
	}
}

// finalize stamps the sync time regardless of per-document outcomes.
func (s *SyncService) finalize(ctx context.Context, connectionID string) {
	now := time.Now().UTC()
	if err := s.repo.Update(ctx, connectionID, ConnectionUpdate{LastSyncTime: &now}); err != nil {
		logger.Warn("updating last sync time failed", zap.String("connection_id", connectionID), zap.Error(err))
	}
}

// MarkSyncFailed records a failed background sync on the connection,
// best effort.
func (s *SyncService) MarkSyncFailed(ctx context.Context, userID string, provider Provider, rootFolderURL, message string) {
	conn, err := s.repo.GetByUserProviderAndRoot(ctx, userID, provider, rootFolderURL)
	if err != nil || conn == nil {
		return
	}
	s.markSyncFailed(ctx, conn, message)
}

func (s *SyncService) markSyncFailed(ctx context.Context, conn *Connection, message string) {
	overlay := &ConnectionAuth{LastSyncStatus: SyncStatusFailed, LastSyncMessage: message}
	if err := s.repo.Update(ctx, conn.ID, ConnectionUpdate{Auth: conn.Auth.Merge(overlay)}); err != nil {
		logger.Warn("marking sync failed", zap.String("connection_id", conn.ID), zap.Error(err))
	}
}
