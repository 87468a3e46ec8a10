package db

import (
	"testing"
	"testing/fstest"
	"time"
)

func testFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	return fsys
}

func TestLoadMigrations(t *testing.T) {
	m := NewMigrator(nil, testFS(map[string]string{
		"002_images.sql":  "CREATE TABLE xray_images (id TEXT);",
		"001_xray.sql":    "CREATE TABLE patients (id TEXT);",
		"010_indexes.sql": "CREATE INDEX i ON patients (id);",
		"README.md":       "docs",
		"notes.sql":       "-- no version",
		"abc_x.sql":       "-- bad prefix",
	}))

	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	wantVersions := []int{1, 2, 10}
	for i, v := range wantVersions {
		if migrations[i].Version != v {
			t.Errorf("migration %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_xray.sql" || migrations[0].SQL != "CREATE TABLE patients (id TEXT);" {
		t.Errorf("unexpected first migration %+v", migrations[0])
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	m := NewMigrator(nil, testFS(map[string]string{
		"001_a.sql":  "SELECT 1;",
		"0001_b.sql": "SELECT 2;",
	}))
	if _, err := m.LoadMigrations(); err == nil {
		t.Error("expected error for duplicate versions")
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected none, got %d", len(migrations))
	}
}

func TestPendingAndStatus(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_xray.sql"},
		{Version: 2, Name: "002_images.sql"},
		{Version: 3, Name: "003_indexes.sql"},
	}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	done := map[int]time.Time{1: at}

	p := pending(migrations, done)
	if len(p) != 2 || p[0].Version != 2 || p[1].Version != 3 {
		t.Errorf("unexpected pending %+v", p)
	}

	st := statusOf(migrations, done)
	if !st[0].Applied || st[0].AppliedAt == nil || !st[0].AppliedAt.Equal(at) {
		t.Errorf("expected first applied at %v, got %+v", at, st[0])
	}
	if st[1].Applied || st[1].AppliedAt != nil || st[2].Applied {
		t.Errorf("expected later migrations pending, got %+v", st[1:])
	}
}
