package roster

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "roster.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewRepository(db, SQLite)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func seedStudent(t *testing.T, repo *Repository, roll, department, room string) Student {
	t.Helper()
	s, err := repo.UpsertStudent(context.Background(), Student{RollNumber: roll, Name: "Student " + roll, Department: department, Room: room})
	if err != nil {
		t.Fatalf("seed student %s: %v", roll, err)
	}
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestMarkVerifiedUnknownRollReturnsNil(t *testing.T) {
	repo := newTestRepository(t)
	seedStudent(t, repo, "R1", "CSE", "101")

	s, err := repo.MarkVerified(context.Background(), "R404")
	if err != nil {
		t.Fatalf("MarkVerified returned error: %v", err)
	}
	if s != nil {
		t.Fatalf("expected nil student, got %+v", s)
	}

	other, err := repo.FindStudent(context.Background(), "R1")
	if err != nil {
		t.Fatalf("FindStudent returned error: %v", err)
	}
	if other.IsVerified {
		t.Fatal("unrelated student was mutated")
	}
}

func TestMarkVerifiedFlipsOnceAndKeepsFirstTimestamp(t *testing.T) {
	repo := newTestRepository(t)
	seedStudent(t, repo, "R1", "CSE", "101")

	first := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return first }
	s, err := repo.MarkVerified(context.Background(), "R1")
	if err != nil {
		t.Fatalf("MarkVerified returned error: %v", err)
	}
	if s == nil || !s.IsVerified || s.RollNumber != "R1" {
		t.Fatalf("unexpected student %+v", s)
	}
	if s.VerifiedAt == nil || !s.VerifiedAt.Equal(first) {
		t.Fatalf("unexpected verified_at %v", s.VerifiedAt)
	}

	repo.now = func() time.Time { return first.Add(time.Hour) }
	again, err := repo.MarkVerified(context.Background(), "R1")
	if err != nil {
		t.Fatalf("repeat MarkVerified returned error: %v", err)
	}
	if !again.IsVerified {
		t.Fatal("expected student to stay verified")
	}
	if again.VerifiedAt == nil || !again.VerifiedAt.Equal(first) {
		t.Fatalf("verified_at moved on repeat: %v", again.VerifiedAt)
	}
}

func TestMarkVerifiedConcurrentRequests(t *testing.T) {
	repo := newTestRepository(t)
	seedStudent(t, repo, "R1", "CSE", "101")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := repo.MarkVerified(context.Background(), "R1")
			if err == nil && (s == nil || !s.IsVerified) {
				t.Errorf("unexpected student %+v", s)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent MarkVerified returned error: %v", err)
		}
	}
}

func TestUpsertStudentKeepsVerification(t *testing.T) {
	repo := newTestRepository(t)
	created := seedStudent(t, repo, "R1", "CSE", "101")
	if created.IsVerified {
		t.Fatal("new students start unverified")
	}
	if _, err := repo.MarkVerified(context.Background(), "R1"); err != nil {
		t.Fatalf("MarkVerified returned error: %v", err)
	}

	updated, err := repo.UpsertStudent(context.Background(), Student{RollNumber: "R1", Name: "Renamed", Department: "ECE", Room: "202"})
	if err != nil {
		t.Fatalf("UpsertStudent returned error: %v", err)
	}
	if updated.ID != created.ID {
		t.Fatalf("expected id %s to be kept, got %s", created.ID, updated.ID)
	}
	if updated.Name != "Renamed" || updated.Department != "ECE" || updated.Room != "202" {
		t.Fatalf("profile not updated: %+v", updated)
	}
	if !updated.IsVerified {
		t.Fatal("upsert reset verification state")
	}

	if _, err := repo.UpsertStudent(context.Background(), Student{}); err == nil {
		t.Fatal("expected error for missing roll number")
	}
}

func TestListStudentsAppliesOnlyNonEmptyFilters(t *testing.T) {
	repo := newTestRepository(t)
	seedStudent(t, repo, "R3", "CSE", "102")
	seedStudent(t, repo, "R1", "CSE", "101")
	seedStudent(t, repo, "R2", "ECE", "101")

	cases := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "no filter", filter: Filter{}, want: []string{"R1", "R2", "R3"}},
		{name: "department", filter: Filter{Department: "CSE"}, want: []string{"R1", "R3"}},
		{name: "room", filter: Filter{Room: "101"}, want: []string{"R1", "R2"}},
		{name: "both", filter: Filter{Department: "CSE", Room: "101"}, want: []string{"R1"}},
		{name: "no match", filter: Filter{Department: "MECH"}, want: []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := repo.ListStudents(context.Background(), tc.filter)
			if err != nil {
				t.Fatalf("ListStudents returned error: %v", err)
			}
			if got == nil {
				t.Fatal("expected empty slice, got nil")
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d students, got %d", len(tc.want), len(got))
			}
			for i, roll := range tc.want {
				if got[i].RollNumber != roll {
					t.Fatalf("position %d: expected %s, got %s", i, roll, got[i].RollNumber)
				}
			}
		})
	}
}

func TestInvigilatorLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	missing, err := repo.FindInvigilator(ctx, "alice")
	if err != nil || missing != nil {
		t.Fatalf("expected nil invigilator, got %+v (err %v)", missing, err)
	}

	created, err := repo.CreateInvigilator(ctx, "alice", "hash-1")
	if err != nil {
		t.Fatalf("CreateInvigilator returned error: %v", err)
	}
	replaced, err := repo.CreateInvigilator(ctx, "alice", "hash-2")
	if err != nil {
		t.Fatalf("second CreateInvigilator returned error: %v", err)
	}
	if replaced.ID != created.ID {
		t.Fatalf("expected id to be kept, got %s and %s", created.ID, replaced.ID)
	}

	found, err := repo.FindInvigilator(ctx, "alice")
	if err != nil {
		t.Fatalf("FindInvigilator returned error: %v", err)
	}
	if found == nil || found.PasswordHash != "hash-2" {
		t.Fatalf("unexpected invigilator %+v", found)
	}

	if _, err := repo.CreateInvigilator(ctx, "", "hash"); err == nil {
		t.Fatal("expected error for missing username")
	}
}

func TestRecordAttemptIsIdempotentPerRequest(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	distance := 0.23
	completed := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := repo.RecordAttempt(ctx, Attempt{RequestID: "req-1", RollNumber: "R1", Outcome: "verified", Distance: &distance, CompletedAt: completed}); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}
	if _, err := repo.RecordAttempt(ctx, Attempt{RequestID: "req-1", RollNumber: "R1", Outcome: "verified", Distance: &distance, CompletedAt: completed}); err != nil {
		t.Fatalf("replayed RecordAttempt returned error: %v", err)
	}
	if _, err := repo.RecordAttempt(ctx, Attempt{RequestID: "req-2", RollNumber: "R2", Outcome: "failed", Kind: "Timeout", CompletedAt: completed.Add(time.Minute)}); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}

	all, err := repo.ListAttempts(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListAttempts returned error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(all))
	}
	if all[0].RequestID != "req-2" || all[0].Distance != nil || all[0].Kind != "Timeout" {
		t.Fatalf("unexpected newest attempt %+v", all[0])
	}
	if all[1].Distance == nil || *all[1].Distance != 0.23 {
		t.Fatalf("unexpected distance on %+v", all[1])
	}
	if !all[1].CompletedAt.Equal(completed) {
		t.Fatalf("unexpected completion time %v", all[1].CompletedAt)
	}

	forR1, err := repo.ListAttempts(ctx, "R1", 10)
	if err != nil {
		t.Fatalf("ListAttempts returned error: %v", err)
	}
	if len(forR1) != 1 || forR1[0].RequestID != "req-1" {
		t.Fatalf("unexpected filtered attempts %+v", forR1)
	}

	if _, err := repo.RecordAttempt(ctx, Attempt{}); err == nil {
		t.Fatal("expected error for missing request id")
	}
}

func TestRebindPostgresPlaceholders(t *testing.T) {
	repo := NewRepository(nil, Postgres)
	got := repo.rebind("SELECT * FROM students WHERE department = ? AND room = ? LIMIT ?")
	want := "SELECT * FROM students WHERE department = $1 AND room = $2 LIMIT $3"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	sqlite := NewRepository(nil, SQLite)
	if q := sqlite.rebind("a = ?"); q != "a = ?" {
		t.Fatalf("sqlite query rewritten: %q", q)
	}
}

func TestDBTimeScan(t *testing.T) {
	var v dbTime
	if err := v.Scan("2024-03-01 09:00:00.5+00:00"); err != nil || !v.Valid {
		t.Fatalf("scan text: %v", err)
	}
	if v.Time.Nanosecond() != 500000000 {
		t.Fatalf("unexpected fractional seconds %d", v.Time.Nanosecond())
	}
	if err := v.Scan(nil); err != nil || v.Valid {
		t.Fatalf("scan nil: valid=%v err=%v", v.Valid, err)
	}
	if err := v.Scan(42); err == nil {
		t.Fatal("expected error for integer timestamp")
	}
}
