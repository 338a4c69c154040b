// Package service implements the application's business logic: OAuth
// connection lifecycle, document sync orchestration, knowledge base queries
// and the Slack command flow. Storage and upstream access go through
// interfaces declared here and implemented in internal/repository.
package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
)

// Provider identifies a third-party content source.
type Provider string

const (
	ProviderConfluence  Provider = "CONFLUENCE"
	ProviderGitHub      Provider = "GITHUB"
	ProviderGoogleDrive Provider = "GOOGLE_DRIVE"
	ProviderNotion      Provider = "NOTION"
	ProviderOneDrive    Provider = "ONEDRIVE"
	ProviderQuip        Provider = "QUIP"
)

// Segment is the provider's path segment in URLs and object keys.
func (p Provider) Segment() string {
	return strings.ReplaceAll(strings.ToLower(string(p)), "_", "-")
}

// Sync status values stored on a connection after a sync attempt.
const (
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

// ConnectionAuth is the stored credential blob of a connection. Provider
// token sets are kept as raw JSON and decoded by the provider that owns
// them. Zero-valued fields are omitted from storage.
type ConnectionAuth struct {
	State         string          `json:"state,omitempty"`
	Nonce         string          `json:"nonce,omitempty"`
	RootFolderURL string          `json:"rootFolderUrl,omitempty"`
	Tokens        json.RawMessage `json:"tokens,omitempty"`

	// Confluence site binding.
	CloudID     string `json:"cloudId,omitempty"`
	SiteBaseURL string `json:"siteBaseUrl,omitempty"`

	// Google Drive folder selection.
	FolderName           string `json:"folderName,omitempty"`
	NeedsFolderSelection *bool  `json:"needsFolderSelection,omitempty"`

	LastSyncStatus  string `json:"lastSyncStatus,omitempty"`
	LastSyncMessage string `json:"lastSyncMessage,omitempty"`
}

// Merge overlays the set fields of overlay onto a copy of a. Unset overlay
// fields keep the existing value, so partial updates never clobber stored
// tokens.
func (a *ConnectionAuth) Merge(overlay *ConnectionAuth) *ConnectionAuth {
	merged := ConnectionAuth{}
	if a != nil {
		merged = *a
	}
	if overlay == nil {
		return &merged
	}
	if overlay.State != "" {
		merged.State = overlay.State
	}
	if overlay.Nonce != "" {
		merged.Nonce = overlay.Nonce
	}
	if overlay.RootFolderURL != "" {
		merged.RootFolderURL = overlay.RootFolderURL
	}
	if overlay.Tokens != nil {
		merged.Tokens = overlay.Tokens
	}
	if overlay.CloudID != "" {
		merged.CloudID = overlay.CloudID
	}
	if overlay.SiteBaseURL != "" {
		merged.SiteBaseURL = overlay.SiteBaseURL
	}
	if overlay.FolderName != "" {
		merged.FolderName = overlay.FolderName
	}
	if overlay.NeedsFolderSelection != nil {
		merged.NeedsFolderSelection = overlay.NeedsFolderSelection
	}
	if overlay.LastSyncStatus != "" {
		merged.LastSyncStatus = overlay.LastSyncStatus
	}
	if overlay.LastSyncMessage != "" {
		merged.LastSyncMessage = overlay.LastSyncMessage
	}
	return &merged
}

// DecodeTokens unmarshals the stored token blob into out.
func (a *ConnectionAuth) DecodeTokens(out any) error {
	if a == nil || a.Tokens == nil {
		return nil
	}
	return json.Unmarshal(a.Tokens, out)
}

// EncodeTokens marshals a provider token set for storage.
func EncodeTokens(tokens any) (json.RawMessage, error) {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Connection is one stored link between a user and a provider scope.
type Connection struct {
	ID           string
	UserID       string
	Provider     Provider
	LastSyncTime *time.Time
	Auth         *ConnectionAuth
	CreatedAt    time.Time
}

// ConnectionUpdate carries the fields of an update-by-id. Nil fields are
// left untouched.
type ConnectionUpdate struct {
	Auth         *ConnectionAuth
	LastSyncTime *time.Time
}

// ConnectionRepository persists connections. Lookups return (nil, nil) when
// no row matches.
type ConnectionRepository interface {
	Create(ctx context.Context, conn *Connection) (*Connection, error)
	Update(ctx context.Context, id string, update ConnectionUpdate) error
	GetByUserAndProvider(ctx context.Context, userID string, provider Provider) (*Connection, error)
	GetByUserProviderAndRoot(ctx context.Context, userID string, provider Provider, rootFolderURL string) (*Connection, error)
	ListByUser(ctx context.Context, userID string) ([]*Connection, error)
	Delete(ctx context.Context, userID, id string) error
}

// ObjectStore is the knowledge base content bucket. Exists and Put operate
// on the configured bucket; Metadata takes an explicit bucket because
// retrieval citations reference objects by full s3 URI.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error
	Metadata(ctx context.Context, bucket, key string) (map[string]string, error)
	Bucket() string
}

// RetrievalClient is the subset of the Bedrock agent runtime used for
// knowledge base queries.
type RetrievalClient interface {
	RetrieveAndGenerate(ctx context.Context, params *bedrockagentruntime.RetrieveAndGenerateInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error)
}
