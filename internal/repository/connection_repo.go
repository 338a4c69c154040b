// Package repository implements the persistence interfaces declared by the
// service layer: the postgres connection store and the S3 content store.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	infraerrors "github.com/filipjov/askoro/internal/pkg/errors"
	"github.com/filipjov/askoro/internal/service"
)

const connectionsSchema = `
CREATE TABLE IF NOT EXISTS data_sources (
	id uuid PRIMARY KEY,
	user_id text NOT NULL,
	data_source_type text NOT NULL,
	last_sync_time timestamptz,
	auth jsonb,
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS data_sources_user_idx ON data_sources (user_id, data_source_type);
`

// OpenDB opens and verifies a postgres connection.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// ConnectionRepository stores provider connections in the data_sources
// table. The auth blob is serialized to jsonb.
type ConnectionRepository struct {
	db *sql.DB
}

func NewConnectionRepository(db *sql.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// Init creates the backing table when missing.
func (r *ConnectionRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, connectionsSchema); err != nil {
		return fmt.Errorf("init data_sources schema: %w", err)
	}
	return nil
}

func marshalAuth(auth *service.ConnectionAuth) (any, error) {
	if auth == nil {
		return nil, nil
	}
	raw, err := json.Marshal(auth)
	if err != nil {
		return nil, fmt.Errorf("marshal connection auth: %w", err)
	}
	return raw, nil
}

func (r *ConnectionRepository) Create(ctx context.Context, conn *service.Connection) (*service.Connection, error) {
	authValue, err := marshalAuth(conn.Auth)
	if err != nil {
		return nil, err
	}

	created := *conn
	created.ID = uuid.NewString()
	created.CreatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO data_sources (id, user_id, data_source_type, last_sync_time, auth, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		created.ID, created.UserID, string(created.Provider), created.LastSyncTime, authValue, created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert data source: %w", err)
	}
	return &created, nil
}

func (r *ConnectionRepository) Update(ctx context.Context, id string, update service.ConnectionUpdate) error {
	set := make([]string, 0, 2)
	args := make([]any, 0, 3)

	if update.Auth != nil {
		authValue, err := marshalAuth(update.Auth)
		if err != nil {
			return err
		}
		args = append(args, authValue)
		set = append(set, fmt.Sprintf("auth = $%d", len(args)))
	}
	if update.LastSyncTime != nil {
		args = append(args, *update.LastSyncTime)
		set = append(set, fmt.Sprintf("last_sync_time = $%d", len(args)))
	}
	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE data_sources SET %s WHERE id = $%d",
		strings.Join(set, ", "), len(args))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update data source %s: %w", id, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return infraerrors.NotFound(infraerrors.ReasonNotConfigured, "data source not found")
	}
	return nil
}

const selectColumns = "id, user_id, data_source_type, last_sync_time, auth, created_at"

func (r *ConnectionRepository) GetByUserAndProvider(ctx context.Context, userID string, provider service.Provider) (*service.Connection, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM data_sources
		WHERE user_id = $1 AND data_source_type = $2
		ORDER BY created_at DESC
		LIMIT 1`, selectColumns),
		userID, string(provider))
	return scanConnection(row)
}

func (r *ConnectionRepository) GetByUserProviderAndRoot(ctx context.Context, userID string, provider service.Provider, rootFolderURL string) (*service.Connection, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM data_sources
		WHERE user_id = $1 AND data_source_type = $2 AND auth->>'rootFolderUrl' = $3
		ORDER BY created_at DESC
		LIMIT 1`, selectColumns),
		userID, string(provider), rootFolderURL)
	return scanConnection(row)
}

func (r *ConnectionRepository) ListByUser(ctx context.Context, userID string) ([]*service.Connection, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM data_sources
		WHERE user_id = $1
		ORDER BY created_at DESC`, selectColumns),
		userID)
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	defer rows.Close()

	var conns []*service.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// Delete removes a connection after verifying ownership. Unknown ids and
// other users' rows both report not found.
func (r *ConnectionRepository) Delete(ctx context.Context, userID, id string) error {
	var owner string
	err := r.db.QueryRowContext(ctx, "SELECT user_id FROM data_sources WHERE id = $1", id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userID) {
		return infraerrors.NotFound(infraerrors.ReasonNotConfigured, "data source not found")
	}
	if err != nil {
		return fmt.Errorf("lookup data source %s: %w", id, err)
	}

	_, err = r.db.ExecContext(ctx, "DELETE FROM data_sources WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return fmt.Errorf("delete data source %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*service.Connection, error) {
	var (
		conn     service.Connection
		provider string
		syncTime sql.NullTime
		authRaw  []byte
	)
	err := row.Scan(&conn.ID, &conn.UserID, &provider, &syncTime, &authRaw, &conn.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan data source: %w", err)
	}

	conn.Provider = service.Provider(provider)
	if syncTime.Valid {
		t := syncTime.Time
		conn.LastSyncTime = &t
	}
	if len(authRaw) > 0 {
		auth := &service.ConnectionAuth{}
		if err := json.Unmarshal(authRaw, auth); err != nil {
			return nil, fmt.Errorf("unmarshal connection auth: %w", err)
		}
		conn.Auth = auth
	}
	return &conn, nil
}
