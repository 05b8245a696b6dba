package migrations_test

import (
	"context"
	"strings"
	"testing"

	"github.com/femildignizant/tambola/internal/database"
	"github.com/femildignizant/tambola/internal/migrations"
)

func TestMigrations(t *testing.T) {
	db, err := database.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(db, migrations.SQLite); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	// Verify all tables exist by querying sqlite_master.
	want := []string{"hosts", "games", "game_patterns", "players", "tickets", "claims"}

	for _, table := range want {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}

	for _, index := range []string{"claims_rank_uq", "claims_player_uq"} {
		var sqlText string
		err := db.QueryRow(
			"SELECT sql FROM sqlite_master WHERE type='index' AND name=?", index,
		).Scan(&sqlText)
		if err != nil {
			t.Errorf("index %q not found: %v", index, err)
			continue
		}
		if !strings.HasPrefix(sqlText, "CREATE UNIQUE INDEX") {
			t.Errorf("index %q is not unique: %s", index, sqlText)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db, err := database.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(db, migrations.SQLite); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := migrations.Run(db, migrations.SQLite); err != nil {
		t.Fatalf("second run (should be no-op): %v", err)
	}
}

func TestUnsupportedDialect(t *testing.T) {
	if err := migrations.Run(nil, "mysql"); err == nil {
		t.Fatal("expected error for unsupported dialect")
	}
}
