package db

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMigration(t *testing.T, dir, name, sql string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadMigrations_SortedByVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "002_beds.sql", "CREATE TABLE bed (id UUID);")
	writeMigration(t, dir, "001_wards.sql", "CREATE TABLE ward (id UUID);")
	writeMigration(t, dir, "010_billing.sql", "CREATE TABLE bill (id UUID);")

	m := NewMigrator(nil, dir)
	migs, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migs) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migs))
	}
	if migs[0].Version != 1 || migs[1].Version != 2 || migs[2].Version != 10 {
		t.Errorf("expected versions [1 2 10], got [%d %d %d]",
			migs[0].Version, migs[1].Version, migs[2].Version)
	}
	if migs[0].Name != "001_wards.sql" {
		t.Errorf("expected 001_wards.sql first, got %s", migs[0].Name)
	}
}

func TestLoadMigrations_SkipsNonSQL(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_wards.sql", "CREATE TABLE ward (id UUID);")
	writeMigration(t, dir, "README.md", "notes")
	writeMigration(t, dir, "notes.sql", "no version prefix")

	m := NewMigrator(nil, dir)
	migs, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migs) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migs))
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	m := NewMigrator(nil, "/nonexistent/migrations")
	if _, err := m.LoadMigrations(); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestLoadMigrations_ReadsContent(t *testing.T) {
	dir := t.TempDir()
	sql := "CREATE TABLE care_episode (id UUID PRIMARY KEY);"
	writeMigration(t, dir, "001_episodes.sql", sql)

	m := NewMigrator(nil, dir)
	migs, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if migs[0].SQL != sql {
		t.Errorf("expected SQL content preserved, got %q", migs[0].SQL)
	}
}
