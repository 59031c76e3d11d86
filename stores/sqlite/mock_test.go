package sqlite

import (
	"canvas-studio/core"
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupMockDB(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStoreWithDB(db), mock
}

func TestMigrate_Error(t *testing.T) {
	store, mock := setupMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").WillReturnError(errors.New("disk full"))

	if err := store.Migrate(context.Background()); err == nil {
		t.Fatal("Migrate() should fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFindID_QueryError(t *testing.T) {
	store, mock := setupMockDB(t)
	mock.ExpectQuery("SELECT data FROM documents").WithArgs("doc-1").WillReturnError(sql.ErrConnDone)

	_, err := store.FindID(context.Background(), "doc-1")
	if !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("got %v, want %v", err, sql.ErrConnDone)
	}
	if errors.Is(err, core.ErrNotFound) {
		t.Error("query failure must not read as not found")
	}
}

func TestCreate_InsertError(t *testing.T) {
	store, mock := setupMockDB(t)
	mock.ExpectExec("INSERT INTO documents").
		WithArgs(sqlmock.AnyArg(), []byte("data")).
		WillReturnError(errors.New("constraint failed"))

	if _, err := store.Create(context.Background(), &core.Document{Data: []byte("data")}); err == nil {
		t.Fatal("Create() should fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateSnapshot_CountError(t *testing.T) {
	store, mock := setupMockDB(t)
	mock.ExpectQuery("SELECT COUNT").WithArgs("s1").WillReturnError(errors.New("locked"))

	if _, err := store.CreateSnapshot(context.Background(), "s1", "n", "", nil); err == nil {
		t.Fatal("CreateSnapshot() should fail when counting fails")
	}
}

func TestCreateSnapshot_EvictionFailureStillInserts(t *testing.T) {
	store, mock := setupMockDB(t)
	mock.ExpectQuery("SELECT COUNT").WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(core.MaxSnapshots))
	mock.ExpectExec("DELETE FROM snapshots WHERE id IN").WithArgs("s1", 1).
		WillReturnError(errors.New("busy"))
	mock.ExpectExec("INSERT INTO snapshots").WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := store.CreateSnapshot(context.Background(), "s1", "n", "", []byte("{}"))
	if err != nil {
		t.Fatalf("CreateSnapshot() failed: %v", err)
	}
	if id == "" {
		t.Error("CreateSnapshot() returned empty ID")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateSnapshot_NoRows(t *testing.T) {
	store, mock := setupMockDB(t)
	mock.ExpectExec("UPDATE snapshots").WithArgs("n", "d", "missing").WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateSnapshot(context.Background(), "missing", "n", "d")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestSave_RollsBackOnError(t *testing.T) {
	store, mock := setupMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT created_at FROM canvases").WithArgs("u1", "c1").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO canvases").WillReturnError(errors.New("readonly"))
	mock.ExpectRollback()

	err := store.Save(context.Background(), &core.Canvas{ID: "c1", UserID: "u1"})
	if err == nil {
		t.Fatal("Save() should fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSaveJob_Error(t *testing.T) {
	store, mock := setupMockDB(t)
	mock.ExpectExec("INSERT OR REPLACE INTO jobs").WillReturnError(errors.New("io"))

	if err := store.SaveJob(context.Background(), core.JobRecord{ID: "j", SessionID: "s"}); err == nil {
		t.Fatal("SaveJob() should fail")
	}
}
