package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apconole/pw-ci/internal/domain/model"
)

// setupTestDB creates a named shared in-memory SQLite database for testing.
// Writer and reader connections share the same in-memory database via cache=shared.
// A unique name derived from t.Name() ensures isolation between parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name so it's a safe SQLite URI filename component
	// and cannot be misinterpreted as query parameters in the "file:%s?..." DSN.
	safeName := url.PathEscape(t.Name())
	// WAL mode is not applicable to in-memory databases; omit journal_mode pragma.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		safeName,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("create test db writer: %v", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.PingContext(context.Background()); err != nil {
		_ = writer.Close()
		t.Fatalf("ping test db writer: %v", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		t.Fatalf("create test db reader: %v", err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.PingContext(context.Background()); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		t.Fatalf("ping test db reader: %v", err)
	}

	db := &DB{Writer: writer, Reader: reader, path: dsn}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// addTestSeries inserts a series required for foreign key constraints in
// attempt and recheck tests.
func addTestSeries(t *testing.T, db *DB, id int64) {
	t.Helper()
	repo := NewSeriesRepo(db)
	err := repo.Add(context.Background(), makeSeries(id))
	require.NoError(t, err)
}

func makeSeries(id int64) model.Series {
	return model.Series{
		ID:             id,
		Project:        "netdev",
		Name:           "net: fix refcount leak",
		SubmitterName:  "Dev Eloper",
		SubmitterEmail: "dev@example.com",
		PatchIDs:       []int64{id*10 + 1, id*10 + 2},
		HeadSHA:        "abc123",
		CreatedAt:      time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
	}
}

func makeAttempt(seriesID int64, provider, sha string) model.BuildAttempt {
	return model.BuildAttempt{
		SeriesID:  seriesID,
		Provider:  provider,
		CommitSHA: sha,
		State:     model.AttemptPending,
		CreatedAt: time.Date(2026, 2, 10, 12, 30, 0, 0, time.UTC),
	}
}
