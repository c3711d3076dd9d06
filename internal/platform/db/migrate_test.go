package db

import (
	"testing"
	"testing/fstest"
	"time"
)

func TestLoadMigrations(t *testing.T) {
	files := fstest.MapFS{
		"003_alerts.sql":   {Data: []byte("CREATE TABLE alerts (id BIGSERIAL PRIMARY KEY);")},
		"001_core.sql":     {Data: []byte("CREATE TABLE users (id BIGSERIAL PRIMARY KEY);")},
		"002_clinical.sql": {Data: []byte("CREATE TABLE scans (id BIGSERIAL PRIMARY KEY);")},
	}

	migrations, err := NewMigrator(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("migration %d: expected version %d, got %d", i, i+1, m.Version)
		}
	}
	if migrations[0].Name != "001_core.sql" {
		t.Errorf("expected 001_core.sql first, got %s", migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE users (id BIGSERIAL PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_SkipsNonMigrations(t *testing.T) {
	files := fstest.MapFS{
		"001_core.sql":      {Data: []byte("SELECT 1;")},
		"README.md":         {Data: []byte("docs")},
		"seed.sql":          {Data: []byte("SELECT 2;")},
		"abc_notnumber.sql": {Data: []byte("SELECT 3;")},
		"sub/002_x.sql":     {Data: []byte("SELECT 4;")},
	}

	migrations, err := NewMigrator(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"001_core.sql":  {Data: []byte("SELECT 1;")},
		"001_other.sql": {Data: []byte("SELECT 2;")},
	}
	if _, err := NewMigrator(nil, files).LoadMigrations(); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected no migrations, got %d", len(migrations))
	}
}

func TestPendingOf(t *testing.T) {
	all := []Migration{{Version: 1, Name: "001_core.sql"}, {Version: 2, Name: "002_clinical.sql"}, {Version: 3, Name: "003_alerts.sql"}}
	applied := map[int]time.Time{1: time.Now(), 3: time.Now()}

	got := pendingOf(all, applied)
	if len(got) != 1 || got[0].Version != 2 {
		t.Fatalf("expected only version 2 pending, got %+v", got)
	}
	if len(pendingOf(all, nil)) != 3 {
		t.Error("with nothing applied every migration is pending")
	}
}
