package migrate_test

import (
	"testing"

	"planline/internal/db"
	"planline/internal/migrate"
)

func TestMigrateAppliesAllVersionsOnce(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version < 2 {
		t.Fatalf("schema version = %d, want at least 2", version)
	}

	// the 002 column is present
	var n int
	if err := conn.QueryRow(`SELECT count(*) FROM pragma_table_info('tasks') WHERE name='seq'`).Scan(&n); err != nil {
		t.Fatalf("inspect tasks: %v", err)
	}
	if n != 1 {
		t.Fatalf("tasks.seq column missing")
	}

	// a re-run is a no-op
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var after int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&after); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if after != version {
		t.Fatalf("re-run changed version %d -> %d", version, after)
	}
}
