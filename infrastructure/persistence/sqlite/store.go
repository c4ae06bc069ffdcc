// Package sqlite is a single-file LinkStore and RecordRepository for local
// development and the linkctl CLI.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// Schema is applied on every open. The partial unique index rejects a
// second live link between the same ordered endpoints.
const Schema = `
CREATE TABLE IF NOT EXISTS entity_links (
    id TEXT PRIMARY KEY,
    from_kind TEXT NOT NULL,
    from_id TEXT NOT NULL,
    to_kind TEXT NOT NULL,
    to_id TEXT NOT NULL,
    from_locations TEXT NOT NULL DEFAULT '',
    to_locations TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'DRA',
    created_by TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_by TEXT NOT NULL DEFAULT '',
    updated_at INTEGER
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_links_live_pair
    ON entity_links(from_kind, from_id, to_kind, to_id) WHERE status <> 'DEL';
CREATE INDEX IF NOT EXISTS idx_links_from ON entity_links(from_id, created_at);
CREATE INDEX IF NOT EXISTS idx_links_to ON entity_links(to_id, created_at);

CREATE TABLE IF NOT EXISTS records (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    label TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'DRA',
    fields TEXT NOT NULL DEFAULT '{}',
    created_by TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_by TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind, id);

CREATE TABLE IF NOT EXISTS connections (
    connection_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    connected_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_connections_session ON connections(session_id);
`

// Store implements LinkStore, RecordRepository and ConnectionRegistry on SQLite
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ ports.LinkStore          = (*Store)(nil)
	_ ports.RecordRepository   = (*Store)(nil)
	_ ports.ConnectionRegistry = (*Store)(nil)
)

// Open opens (or creates) the database at path and runs migrations
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite db: %w", err)
	}

	logger.Info("SQLite store opened", zap.String("path", path))
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateLink inserts a Draft link
func (s *Store) CreateLink(ctx context.Context, in entities.LinkInput, userID string) (*entities.EntityLink, error) {
	link := &entities.EntityLink{
		ID:             uuid.New().String(),
		FromEntityKind: in.From.Kind,
		FromEntityID:   in.From.ID,
		ToEntityKind:   in.To.Kind,
		ToEntityID:     in.To.ID,
		FromLocations:  in.FromLocations,
		ToLocations:    in.ToLocations,
		Status:         vo.StatusDraft,
		CreatedBy:      userID,
		CreatedAt:      s.now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_links (id, from_kind, from_id, to_kind, to_id, from_locations, to_locations, status, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		link.ID, link.FromEntityKind, link.FromEntityID, link.ToEntityKind, link.ToEntityID,
		link.FromLocations, link.ToLocations, link.Status, link.CreatedBy, link.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, pkgerrors.DuplicateLink(in.From.String(), in.To.String())
		}
		return nil, pkgerrors.NewDatabaseError("insert link", err)
	}
	return link, nil
}

// UpdateLink rewrites endpoints and locations of a live link
func (s *Store) UpdateLink(ctx context.Context, in entities.LinkInput, userID string) (*entities.EntityLink, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("begin", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM entity_links WHERE id = ?`, in.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.LinkNotFound(in.ID)
	}
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("load link", err)
	}
	if vo.StatusKind(status).IsDeleted() {
		return nil, pkgerrors.NewConflictError("link " + in.ID + " has been deleted")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE entity_links
		    SET from_kind = ?, from_id = ?, to_kind = ?, to_id = ?,
		        from_locations = ?, to_locations = ?, updated_by = ?, updated_at = ?
		  WHERE id = ?`,
		in.From.Kind, in.From.ID, in.To.Kind, in.To.ID,
		in.FromLocations, in.ToLocations, userID, s.now().UTC().UnixNano(), in.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, pkgerrors.DuplicateLink(in.From.String(), in.To.String())
		}
		return nil, pkgerrors.NewDatabaseError("update link", err)
	}

	link, err := scanLink(tx.QueryRowContext(ctx, selectLink+` WHERE id = ?`, in.ID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, pkgerrors.NewDatabaseError("commit", err)
	}
	return link, nil
}

// DeleteLink marks a link Deleted
func (s *Store) DeleteLink(ctx context.Context, id string, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entity_links SET status = ?, updated_by = ?, updated_at = ? WHERE id = ?`,
		vo.StatusDeleted, userID, s.now().UTC().UnixNano(), id,
	)
	if err != nil {
		return pkgerrors.NewDatabaseError("delete link", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.LinkNotFound(id)
	}
	return nil
}

// GetLink loads one link
func (s *Store) GetLink(ctx context.Context, id string) (*entities.EntityLink, error) {
	link, err := scanLink(s.db.QueryRowContext(ctx, selectLink+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.LinkNotFound(id)
	}
	return link, err
}

// ReadLinksForRecord returns the record's outbound and inbound links by creation time
func (s *Store) ReadLinksForRecord(ctx context.Context, ref vo.RecordRef) (entities.RecordLinks, error) {
	from, err := s.queryLinks(ctx, selectLink+` WHERE from_kind = ? AND from_id = ? ORDER BY created_at, id`, ref.Kind, ref.ID)
	if err != nil {
		return entities.RecordLinks{}, err
	}
	to, err := s.queryLinks(ctx, selectLink+` WHERE to_kind = ? AND to_id = ? ORDER BY created_at, id`, ref.Kind, ref.ID)
	if err != nil {
		return entities.RecordLinks{}, err
	}
	return entities.RecordLinks{FromEntityLinks: from, ToEntityLinks: to}, nil
}

const selectLink = `SELECT id, from_kind, from_id, to_kind, to_id, from_locations, to_locations,
	status, created_by, created_at, updated_by, updated_at FROM entity_links`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*entities.EntityLink, error) {
	var (
		l         entities.EntityLink
		createdAt int64
		updatedAt sql.NullInt64
	)
	err := row.Scan(&l.ID, &l.FromEntityKind, &l.FromEntityID, &l.ToEntityKind, &l.ToEntityID,
		&l.FromLocations, &l.ToLocations, &l.Status, &l.CreatedBy, &createdAt, &l.UpdatedBy, &updatedAt)
	if err != nil {
		return nil, err
	}
	l.CreatedAt = time.Unix(0, createdAt).UTC()
	if updatedAt.Valid {
		t := time.Unix(0, updatedAt.Int64).UTC()
		l.UpdatedAt = &t
	}
	return &l, nil
}

func (s *Store) queryLinks(ctx context.Context, query string, args ...any) ([]*entities.EntityLink, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("query links", err)
	}
	defer rows.Close()

	out := []*entities.EntityLink{}
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("scan link", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Save upserts a record snapshot
func (s *Store) Save(ctx context.Context, record *entities.TrackedRecord) error {
	snap := record.Snapshot()
	fields, err := json.Marshal(snap.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, kind, label, status, fields, created_by, created_at, updated_by, updated_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		    kind = excluded.kind, label = excluded.label, status = excluded.status, fields = excluded.fields,
		    updated_by = excluded.updated_by, updated_at = excluded.updated_at, version = excluded.version`,
		snap.ID, snap.Kind, snap.Label, snap.Status, string(fields),
		snap.CreatedBy, snap.CreatedAt.UnixNano(), snap.UpdatedBy, snap.UpdatedAt.UnixNano(), snap.Version,
	)
	if err != nil {
		return pkgerrors.NewDatabaseError("save record", err)
	}
	return nil
}

const selectRecord = `SELECT id, kind, label, status, fields, created_by, created_at, updated_by, updated_at, version FROM records`

func scanRecord(row rowScanner) (*entities.TrackedRecord, error) {
	var (
		snap                 entities.RecordSnapshot
		fields               string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&snap.ID, &snap.Kind, &snap.Label, &snap.Status, &fields,
		&snap.CreatedBy, &createdAt, &snap.UpdatedBy, &updatedAt, &snap.Version); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &snap.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of %s: %w", snap.ID, err)
	}
	snap.CreatedAt = time.Unix(0, createdAt).UTC()
	snap.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return entities.ReconstructTrackedRecord(snap)
}

// GetByID loads a record
func (s *Store) GetByID(ctx context.Context, id string) (*entities.TrackedRecord, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.RecordNotFound(id)
	}
	return r, err
}

// List returns records matching criteria ordered by id
func (s *Store) List(ctx context.Context, criteria ports.RecordCriteria) ([]*entities.TrackedRecord, error) {
	if criteria.IDs != nil && len(criteria.IDs) == 0 {
		return []*entities.TrackedRecord{}, nil
	}

	var (
		where []string
		args  []any
	)
	if criteria.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, criteria.Kind)
	}
	if len(criteria.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(criteria.IDs))+")")
		for _, id := range criteria.IDs {
			args = append(args, id)
		}
	}
	if len(criteria.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(criteria.Statuses))+")")
		for _, st := range criteria.Statuses {
			args = append(args, st)
		}
	}
	if criteria.Text != "" {
		where = append(where, "instr(lower(label), lower(?)) > 0")
		args = append(args, criteria.Text)
	}

	query := selectRecord
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if criteria.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, criteria.Limit, criteria.Offset)
	} else if criteria.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, criteria.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list records", err)
	}
	defer rows.Close()

	out := []*entities.TrackedRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Labels resolves labels of known ids
func (s *Store) Labels(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, label FROM records WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("load labels", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, label string
		if err := rows.Scan(&id, &label); err != nil {
			return nil, err
		}
		out[id] = label
	}
	return out, rows.Err()
}

// Register associates a connection with a session
func (s *Store) Register(ctx context.Context, connectionID, userID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (connection_id, user_id, session_id, connected_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(connection_id) DO UPDATE SET user_id = excluded.user_id, session_id = excluded.session_id`,
		connectionID, userID, sessionID, s.now().UTC().Unix(),
	)
	if err != nil {
		return pkgerrors.NewDatabaseError("register connection", err)
	}
	return nil
}

// Unregister drops a connection
func (s *Store) Unregister(ctx context.Context, connectionID string) (string, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM connections WHERE connection_id = ? RETURNING session_id`, connectionID,
	).Scan(&sessionID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", pkgerrors.NewDatabaseError("unregister connection", err)
	}
	return sessionID, nil
}

// ConnectionsForSession lists connection ids of a session
func (s *Store) ConnectionsForSession(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT connection_id FROM connections WHERE session_id = ? ORDER BY connection_id`, sessionID)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list connections", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
