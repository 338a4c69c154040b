// Package testutil provides the stubs, fixtures and helpers shared by unit
// tests across packages.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"

	"github.com/filipjov/askoro/internal/service"
)

var _ service.ConnectionRepository = (*StubConnectionRepository)(nil)

// StubConnectionRepository is an in-memory service.ConnectionRepository.
type StubConnectionRepository struct {
	mu          sync.Mutex
	nextID      int
	Connections map[string]*service.Connection

	// CreateErr, UpdateErr and GetErr force failures when set.
	CreateErr error
	UpdateErr error
	GetErr    error
}

func NewStubConnectionRepository() *StubConnectionRepository {
	return &StubConnectionRepository{Connections: map[string]*service.Connection{}}
}

func (r *StubConnectionRepository) Create(_ context.Context, conn *service.Connection) (*service.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return nil, r.CreateErr
	}
	stored := *conn
	if stored.ID == "" {
		r.nextID++
		stored.ID = fmt.Sprintf("conn-%d", r.nextID)
	}
	r.Connections[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (r *StubConnectionRepository) Update(_ context.Context, id string, update service.ConnectionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.UpdateErr != nil {
		return r.UpdateErr
	}
	conn, ok := r.Connections[id]
	if !ok {
		return fmt.Errorf("connection %s not found", id)
	}
	if update.Auth != nil {
		conn.Auth = update.Auth
	}
	if update.LastSyncTime != nil {
		conn.LastSyncTime = update.LastSyncTime
	}
	return nil
}

func (r *StubConnectionRepository) GetByUserAndProvider(_ context.Context, userID string, provider service.Provider) (*service.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	var newest *service.Connection
	for _, conn := range r.Connections {
		if conn.UserID != userID || conn.Provider != provider {
			continue
		}
		if newest == nil || conn.CreatedAt.After(newest.CreatedAt) {
			newest = conn
		}
	}
	return copyConnection(newest), nil
}

func (r *StubConnectionRepository) GetByUserProviderAndRoot(_ context.Context, userID string, provider service.Provider, rootFolderURL string) (*service.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	var newest *service.Connection
	for _, conn := range r.Connections {
		if conn.UserID != userID || conn.Provider != provider {
			continue
		}
		if conn.Auth == nil || conn.Auth.RootFolderURL != rootFolderURL {
			continue
		}
		if newest == nil || conn.CreatedAt.After(newest.CreatedAt) {
			newest = conn
		}
	}
	return copyConnection(newest), nil
}

func (r *StubConnectionRepository) ListByUser(_ context.Context, userID string) ([]*service.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	var out []*service.Connection
	for _, conn := range r.Connections {
		if conn.UserID == userID {
			out = append(out, copyConnection(conn))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *StubConnectionRepository) Delete(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.Connections[id]
	if !ok || conn.UserID != userID {
		return fmt.Errorf("connection %s not found", id)
	}
	delete(r.Connections, id)
	return nil
}

// Get returns the stored connection by id, without copying.
func (r *StubConnectionRepository) Get(id string) *service.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Connections[id]
}

func copyConnection(conn *service.Connection) *service.Connection {
	if conn == nil {
		return nil
	}
	out := *conn
	if conn.Auth != nil {
		auth := *conn.Auth
		out.Auth = &auth
	}
	return &out
}

var _ service.ObjectStore = (*StubObjectStore)(nil)

// StoredObject captures one Put call.
type StoredObject struct {
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

// StubObjectStore is an in-memory service.ObjectStore.
type StubObjectStore struct {
	mu      sync.Mutex
	bucket  string
	Objects map[string]StoredObject

	// ObjectMetadata backs Metadata lookups, keyed "bucket/key".
	ObjectMetadata map[string]map[string]string

	ExistsErr   error
	PutErr      error
	MetadataErr error
}

func NewStubObjectStore(bucket string) *StubObjectStore {
	return &StubObjectStore{
		bucket:         bucket,
		Objects:        map[string]StoredObject{},
		ObjectMetadata: map[string]map[string]string{},
	}
}

func (s *StubObjectStore) Bucket() string { return s.bucket }

func (s *StubObjectStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ExistsErr != nil {
		return false, s.ExistsErr
	}
	_, ok := s.Objects[key]
	return ok, nil
}

func (s *StubObjectStore) Put(_ context.Context, key string, body []byte, contentType string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return s.PutErr
	}
	s.Objects[key] = StoredObject{Body: body, ContentType: contentType, Metadata: metadata}
	return nil
}

func (s *StubObjectStore) Metadata(_ context.Context, bucket, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MetadataErr != nil {
		return nil, s.MetadataErr
	}
	md, ok := s.ObjectMetadata[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return md, nil
}

var _ service.RetrievalClient = (*StubRetrievalClient)(nil)

// StubRetrievalClient records RetrieveAndGenerate calls and returns a canned
// output.
type StubRetrievalClient struct {
	Input  *bedrockagentruntime.RetrieveAndGenerateInput
	Output *bedrockagentruntime.RetrieveAndGenerateOutput
	Err    error
}

func (c *StubRetrievalClient) RetrieveAndGenerate(_ context.Context, params *bedrockagentruntime.RetrieveAndGenerateInput, _ ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error) {
	c.Input = params
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Output, nil
}
