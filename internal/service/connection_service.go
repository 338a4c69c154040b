package service

import (
	"context"
	"time"

	infraerrors "github.com/filipjov/askoro/internal/pkg/errors"
	"github.com/filipjov/askoro/internal/pkg/googledrive"
)

// DataSourceSummary is the boundary view of a connection.
type DataSourceSummary struct {
	ID             string     `json:"id"`
	DataSourceType Provider   `json:"dataSourceType"`
	LastSyncTime   *time.Time `json:"lastSyncTime"`
	RootFolderURL  string     `json:"rootFolderUrl,omitempty"`
}

// FolderSelection is the outcome of binding a Drive connection to a folder.
type FolderSelection struct {
	RootFolderURL string `json:"rootFolderUrl"`
	FolderName    string `json:"folderName"`
}

// ConnectionService exposes the stored connections: listing, deletion and
// Google Drive folder selection.
type ConnectionService struct {
	repo  ConnectionRepository
	drive *googledrive.Client
}

func NewConnectionService(repo ConnectionRepository, driveClient *googledrive.Client) *ConnectionService {
	return &ConnectionService{repo: repo, drive: driveClient}
}

// List returns the user's connections, newest first.
func (s *ConnectionService) List(ctx context.Context, userID string) ([]DataSourceSummary, error) {
	conns, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]DataSourceSummary, 0, len(conns))
	for _, conn := range conns {
		summary := DataSourceSummary{
			ID:             conn.ID,
			DataSourceType: conn.Provider,
			LastSyncTime:   conn.LastSyncTime,
		}
		if conn.Auth != nil {
			summary.RootFolderURL = conn.Auth.RootFolderURL
		}
		out = append(out, summary)
	}
	return out, nil
}

// Delete removes a connection the user owns.
func (s *ConnectionService) Delete(ctx context.Context, userID, id string) error {
	return s.repo.Delete(ctx, userID, id)
}

// ListDriveFolders lists the folders reachable through the user's Google
// Drive grant. Refreshed tokens are persisted on the connection.
func (s *ConnectionService) ListDriveFolders(ctx context.Context, userID string) ([]googledrive.File, error) {
	conn, tokens, err := s.driveConnection(ctx, userID)
	if err != nil {
		return nil, err
	}
	persist := func(ctx context.Context, updated *googledrive.Tokens) error {
		raw, err := EncodeTokens(updated)
		if err != nil {
			return err
		}
		return s.repo.Update(ctx, conn.ID, ConnectionUpdate{Auth: conn.Auth.Merge(&ConnectionAuth{Tokens: raw})})
	}
	return s.drive.ListFolders(ctx, tokens, persist)
}

// SelectDriveFolder binds the user's Google Drive connection to a folder.
// An empty or "all" folder id selects the whole drive.
func (s *ConnectionService) SelectDriveFolder(ctx context.Context, userID, folderID, folderName, folderURL string) (*FolderSelection, error) {
	conn, _, err := s.driveConnection(ctx, userID)
	if err != nil {
		return nil, err
	}

	selection := &FolderSelection{}
	if folderID == "" || folderID == RootAll {
		selection.RootFolderURL = googledrive.RootFolderID
		selection.FolderName = "All Folders"
	} else {
		selection.RootFolderURL = folderURL
		if selection.RootFolderURL == "" {
			selection.RootFolderURL = googledrive.FolderURL(folderID)
		}
		selection.FolderName = folderName
		if selection.FolderName == "" {
			selection.FolderName = "Selected Folder"
		}
	}

	needsSelection := false
	overlay := &ConnectionAuth{
		RootFolderURL:        selection.RootFolderURL,
		FolderName:           selection.FolderName,
		NeedsFolderSelection: &needsSelection,
	}
	if err := s.repo.Update(ctx, conn.ID, ConnectionUpdate{Auth: conn.Auth.Merge(overlay)}); err != nil {
		return nil, err
	}
	return selection, nil
}

// driveConnection loads the user's Google Drive connection and its tokens.
func (s *ConnectionService) driveConnection(ctx context.Context, userID string) (*Connection, *googledrive.Tokens, error) {
	conn, err := s.repo.GetByUserAndProvider(ctx, userID, ProviderGoogleDrive)
	if err != nil {
		return nil, nil, err
	}
	if conn == nil || conn.Auth == nil {
		return nil, nil, infraerrors.NotFound(infraerrors.ReasonNotConfigured, "google drive data source not found")
	}
	tokens := &googledrive.Tokens{}
	if err := conn.Auth.DecodeTokens(tokens); err != nil || tokens.AccessToken == "" {
		return nil, nil, infraerrors.NotFound(infraerrors.ReasonNotConfigured, "no google drive tokens found")
	}
	return conn, tokens, nil
}
