package sqlite

import (
	"canvas-studio/core"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (id TEXT PRIMARY KEY, data BLOB);`,
	`CREATE TABLE IF NOT EXISTS canvases (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT,
		layer_count INTEGER DEFAULT 0,
		data BLOB,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, id)
	);`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		name TEXT,
		description TEXT,
		created_at INTEGER NOT NULL,
		data BLOB NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS snapshots_session ON snapshots (session_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		service_id TEXT,
		api_status TEXT,
		status TEXT,
		message TEXT,
		completed_at INTEGER NOT NULL
	);`,
}

// Store persists documents, canvases, snapshots and job records in one
// SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens dataSourceName and creates any missing tables.
func NewStore(dataSourceName string) (*Store, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	s := NewStoreWithDB(db)
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)
	log.Debug("Retrieving document by ID")
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM documents WHERE id = ?", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return nil, core.NotFound("document", id)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}
	log.Info("Document retrieved successfully")
	return &core.Document{Data: data}, nil
}

func (s *Store) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"data_length": len(document.Data),
	})

	data := document.Data
	if data == nil {
		data = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO documents (id, data) VALUES (?, ?)", id, data); err != nil {
		log.WithError(err).Error("Failed to create document")
		return "", err
	}
	log.Info("Document created successfully")
	return id, nil
}

func (s *Store) List(ctx context.Context, userID string) ([]*core.Canvas, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, layer_count, created_at, updated_at FROM canvases WHERE user_id = ? ORDER BY updated_at DESC",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	canvases := []*core.Canvas{}
	for rows.Next() {
		var (
			canvas           core.Canvas
			name             sql.NullString
			created, updated int64
		)
		if err := rows.Scan(&canvas.ID, &name, &canvas.LayerCount, &created, &updated); err != nil {
			return nil, err
		}
		canvas.UserID = userID
		canvas.Name = name.String
		canvas.CreatedAt = time.UnixMilli(created)
		canvas.UpdatedAt = time.UnixMilli(updated)
		canvases = append(canvases, &canvas)
	}
	return canvases, rows.Err()
}

func (s *Store) Get(ctx context.Context, userID, id string) (*core.Canvas, error) {
	canvas := core.Canvas{ID: id, UserID: userID}
	var (
		name             sql.NullString
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT name, layer_count, data, created_at, updated_at FROM canvases WHERE user_id = ? AND id = ?",
		userID, id).Scan(&name, &canvas.LayerCount, &canvas.Data, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NotFound("canvas", id)
		}
		return nil, err
	}
	canvas.Name = name.String
	canvas.CreatedAt = time.UnixMilli(created)
	canvas.UpdatedAt = time.UnixMilli(updated)
	return &canvas, nil
}

// Save upserts the canvas; created_at is kept from the first insert.
func (s *Store) Save(ctx context.Context, canvas *core.Canvas) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	var created int64
	err = tx.QueryRowContext(ctx, "SELECT created_at FROM canvases WHERE user_id = ? AND id = ?", canvas.UserID, canvas.ID).Scan(&created)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			"INSERT INTO canvases (id, user_id, name, layer_count, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			canvas.ID, canvas.UserID, canvas.Name, canvas.LayerCount, canvas.Data, now.UnixMilli(), now.UnixMilli())
		canvas.CreatedAt = now
	case err == nil:
		_, err = tx.ExecContext(ctx,
			"UPDATE canvases SET name = ?, layer_count = ?, data = ?, updated_at = ? WHERE user_id = ? AND id = ?",
			canvas.Name, canvas.LayerCount, canvas.Data, now.UnixMilli(), canvas.UserID, canvas.ID)
		canvas.CreatedAt = time.UnixMilli(created)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{"user_id": canvas.UserID, "canvas_id": canvas.ID}).WithError(err).Error("Failed to save canvas")
		return err
	}
	canvas.UpdatedAt = now
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM canvases WHERE user_id = ? AND id = ?", userID, id)
	return err
}

// CreateSnapshot stores a snapshot for a session, evicting the oldest ones
// once the session holds core.MaxSnapshots.
func (s *Store) CreateSnapshot(ctx context.Context, sessionID, name, description string, data []byte) (string, error) {
	id := ulid.Make().String()
	createdAt := ulid.Now()

	log := logrus.WithFields(logrus.Fields{
		"snapshot_id": id,
		"session_id":  sessionID,
		"data_length": len(data),
	})

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots WHERE session_id = ?", sessionID).Scan(&count)
	if err != nil {
		log.WithError(err).Error("Failed to count snapshots")
		return "", err
	}

	if excess := count - core.MaxSnapshots + 1; excess > 0 {
		_, err = s.db.ExecContext(ctx,
			"DELETE FROM snapshots WHERE id IN (SELECT id FROM snapshots WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?)",
			sessionID, excess)
		if err != nil {
			log.WithError(err).Error("Failed to delete oldest snapshot")
		}
	}

	if data == nil {
		data = []byte{}
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO snapshots (id, session_id, name, description, created_at, data) VALUES (?, ?, ?, ?, ?, ?)",
		id, sessionID, name, description, createdAt, data)
	if err != nil {
		log.WithError(err).Error("Failed to create snapshot")
		return "", err
	}

	log.Info("Snapshot created successfully")
	return id, nil
}

// ListSnapshots lists a session's snapshots newest first, without data.
func (s *Store) ListSnapshots(ctx context.Context, sessionID string) ([]core.Snapshot, error) {
	log := logrus.WithField("session_id", sessionID)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, name, description, created_at FROM snapshots WHERE session_id = ? ORDER BY created_at DESC, id DESC",
		sessionID)
	if err != nil {
		log.WithError(err).Error("Failed to list snapshots")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close snapshot rows")
		}
	}()

	snapshots := []core.Snapshot{}
	for rows.Next() {
		var snapshot core.Snapshot
		var name, description sql.NullString
		if err := rows.Scan(&snapshot.ID, &snapshot.SessionID, &name, &description, &snapshot.CreatedAt); err != nil {
			log.WithError(err).Error("Failed to scan snapshot")
			continue
		}
		snapshot.Name = name.String
		snapshot.Description = description.String
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*core.Snapshot, error) {
	log := logrus.WithField("snapshot_id", id)

	var snapshot core.Snapshot
	var name, description sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, session_id, name, description, created_at, data FROM snapshots WHERE id = ?",
		id).Scan(&snapshot.ID, &snapshot.SessionID, &name, &description, &snapshot.CreatedAt, &snapshot.Data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn("Snapshot with specified ID not found")
			return nil, core.NotFound("snapshot", id)
		}
		log.WithError(err).Error("Failed to retrieve snapshot")
		return nil, err
	}
	snapshot.Name = name.String
	snapshot.Description = description.String
	return &snapshot, nil
}

func (s *Store) UpdateSnapshot(ctx context.Context, id, name, description string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE snapshots SET name = ?, description = ? WHERE id = ?",
		name, description, id)
	if err != nil {
		logrus.WithField("snapshot_id", id).WithError(err).Error("Failed to update snapshot metadata")
		return err
	}
	return requireRow(result, "snapshot", id)
}

func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		logrus.WithField("snapshot_id", id).WithError(err).Error("Failed to delete snapshot")
		return err
	}
	return requireRow(result, "snapshot", id)
}

func requireRow(result sql.Result, thing, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return core.NotFound(thing, id)
	}
	return nil
}

func (s *Store) SaveJob(ctx context.Context, record core.JobRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO jobs (id, session_id, service_id, api_status, status, message, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		record.ID, record.SessionID, record.ServiceID, string(record.APIStatus), record.Status, record.Message, record.CompletedAt.UnixMilli())
	if err != nil {
		logrus.WithFields(logrus.Fields{"job_id": record.ID, "session_id": record.SessionID}).WithError(err).Error("Failed to save job")
	}
	return err
}

// ListJobs returns the session's job records in completion order.
func (s *Store) ListJobs(ctx context.Context, sessionID string) ([]core.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, service_id, api_status, status, message, completed_at FROM jobs WHERE session_id = ? ORDER BY completed_at ASC",
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []core.JobRecord{}
	for rows.Next() {
		var (
			r                                   core.JobRecord
			service, apiStatus, status, message sql.NullString
			completed                           int64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &service, &apiStatus, &status, &message, &completed); err != nil {
			return nil, err
		}
		r.ServiceID = service.String
		r.APIStatus = core.APIStatus(apiStatus.String)
		r.Status = status.String
		r.Message = message.String
		r.CompletedAt = time.UnixMilli(completed)
		records = append(records, r)
	}
	return records, rows.Err()
}
