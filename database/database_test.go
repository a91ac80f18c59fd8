package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"testing/fstest"
)

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x TEXT DEFAULT 'a;b');\n\nINSERT INTO a VALUES ('it''s');  ")
	want := []string{
		"CREATE TABLE a (x TEXT DEFAULT 'a;b')",
		"INSERT INTO a VALUES ('it''s')",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitStatements = %#v", got)
	}
}

func TestNewAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lessons.db")

	db, err := New(path, Migrations())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := db.Conn.Exec(`INSERT INTO profiles (user_id, display_name) VALUES ('u1', 'Minji')`); err != nil {
		t.Fatalf("insert profile: %v", err)
	}
	db.Close()

	db, err = New(path, Migrations())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.Conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Fatalf("schema_migrations rows = %d, want 1", n)
	}
}

func TestRecoverableMigration(t *testing.T) {
	migrations := fstest.MapFS{
		"001_a.sql": {Data: []byte("CREATE TABLE t (a TEXT); ALTER TABLE t ADD COLUMN b TEXT; ALTER TABLE t ADD COLUMN b TEXT;")},
	}
	db, err := New(filepath.Join(t.TempDir(), "x.db"), migrations)
	if err != nil {
		t.Fatalf("duplicate column should be tolerated: %v", err)
	}
	db.Close()
}

func TestWithTxRollback(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "tx.db"), Migrations())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	boom := errors.New("boom")
	err = WithTx(ctx, db.Conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO profiles (user_id, display_name) VALUES ('u2', 'Joon')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx err = %v, want boom", err)
	}

	var n int
	if err := db.Conn.QueryRow(`SELECT COUNT(*) FROM profiles`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("rolled back insert is visible (%d rows)", n)
	}
}
