package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies that the submissions indexes are created by the migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_submissions_email", "idx_submissions_created"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestUpdateRecordRoundTrip(t *testing.T) {
	s := openTestStore(t)

	at := time.Date(2025, 3, 4, 18, 30, 15, 123000000, time.UTC)
	if err := s.UpsertUpdateRecord("ann@example.com", at); err != nil {
		t.Fatalf("UpsertUpdateRecord: %v", err)
	}

	got, err := s.GetUpdateRecord("ann@example.com")
	if err != nil {
		t.Fatalf("GetUpdateRecord: %v", err)
	}
	if !got.LastUpdateAt.Equal(at) {
		t.Errorf("LastUpdateAt = %s, want %s", got.LastUpdateAt, at)
	}
}

func TestGetUpdateRecordNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetUpdateRecord("nobody@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestUpsertKeepsLatest verifies an older timestamp never overwrites a newer one.
func TestUpsertKeepsLatest(t *testing.T) {
	s := openTestStore(t)

	newer := time.Date(2025, 3, 4, 18, 0, 0, 0, time.UTC)
	older := newer.Add(-90 * time.Minute)
	latest := newer.Add(500 * time.Millisecond)

	if err := s.UpsertUpdateRecord("ann@example.com", newer); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertUpdateRecord("ann@example.com", older); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetUpdateRecord("ann@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastUpdateAt.Equal(newer) {
		t.Errorf("after older upsert: LastUpdateAt = %s, want %s", got.LastUpdateAt, newer)
	}

	if err := s.UpsertUpdateRecord("ann@example.com", latest); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetUpdateRecord("ann@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastUpdateAt.Equal(latest) {
		t.Errorf("after newer upsert: LastUpdateAt = %s, want %s", got.LastUpdateAt, latest)
	}
}

func TestListUpdateRecordsOrdered(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	for i, email := range []string{"cy@example.com", "ann@example.com", "bo@example.com"} {
		if err := s.UpsertUpdateRecord(email, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.ListUpdateRecords()
	if err != nil {
		t.Fatalf("ListUpdateRecords: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	want := []string{"ann@example.com", "bo@example.com", "cy@example.com"}
	for i, r := range recs {
		if r.Email != want[i] {
			t.Errorf("recs[%d].Email = %q, want %q", i, r.Email, want[i])
		}
	}
}

func TestSaveAndListSubmissions(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		email := "ann@example.com"
		if i%2 == 1 {
			email = "bo@example.com"
		}
		sub := Submission{
			ID:        fmt.Sprintf("sub-%d", i),
			Email:     email,
			ChannelID: "C123",
			Source:    "audio",
			EventKey:  fmt.Sprintf("msg:%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveSubmission(sub); err != nil {
			t.Fatalf("SaveSubmission(%d): %v", i, err)
		}
	}

	all, err := s.RecentSubmissions("", 3)
	if err != nil {
		t.Fatalf("RecentSubmissions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 submissions, got %d", len(all))
	}
	if all[0].ID != "sub-4" {
		t.Errorf("newest submission = %q, want sub-4", all[0].ID)
	}

	bo, err := s.RecentSubmissions("bo@example.com", 10)
	if err != nil {
		t.Fatalf("RecentSubmissions(bo): %v", err)
	}
	if len(bo) != 2 {
		t.Fatalf("expected 2 submissions for bo, got %d", len(bo))
	}
	if bo[0].Source != "audio" || bo[0].ChannelID != "C123" {
		t.Errorf("unexpected submission: %+v", bo[0])
	}
}

func TestSaveSubmission_DefaultSource(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveSubmission(Submission{ID: "s1", Email: "ann@example.com"}); err != nil {
		t.Fatal(err)
	}
	subs, err := s.RecentSubmissions("ann@example.com", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].Source != "text" {
		t.Errorf("expected one submission with source text, got %+v", subs)
	}
	if subs[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be defaulted")
	}
}
