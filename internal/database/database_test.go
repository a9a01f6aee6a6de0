package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "detections.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustInsert(t *testing.T, db *Database, ev *DetectionEvent) int64 {
	t.Helper()
	id, err := db.Insert(context.Background(), ev)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return id
}

func TestNewDetectionEventStatus(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name       string
		input      string
		wantName   string
		wantStatus Status
	}{
		{"empty name is unknown", "", UnknownPerson, StatusUnknown},
		{"sentinel is unknown", UnknownPerson, UnknownPerson, StatusUnknown},
		{"named is known", "Alice", "Alice", StatusKnown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewDetectionEvent(ts, tt.input, "Front", "a.jpg", "b.jpg")
			if ev.PersonName != tt.wantName || ev.Status != tt.wantStatus {
				t.Errorf("got (%q, %q), want (%q, %q)", ev.PersonName, ev.Status, tt.wantName, tt.wantStatus)
			}
			if err := ev.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestInsertRejectsInconsistentStatus(t *testing.T) {
	db := newTestDB(t)
	bad := []*DetectionEvent{
		{Timestamp: time.Now(), PersonName: UnknownPerson, Status: StatusKnown},
		{Timestamp: time.Now(), PersonName: "Bob", Status: StatusUnknown},
		{Timestamp: time.Now(), PersonName: "Bob", Status: "maybe"},
	}
	for _, ev := range bad {
		if _, err := db.Insert(context.Background(), ev); err == nil {
			t.Errorf("Insert(%+v) succeeded, want error", ev)
		}
	}
}

func TestListNewestFirstWithFilter(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mustInsert(t, db, NewDetectionEvent(base, "", "Front", "", ""))
	mustInsert(t, db, NewDetectionEvent(base.Add(time.Minute), "Alice", "Front", "", ""))
	mustInsert(t, db, NewDetectionEvent(base.Add(2*time.Minute), "", "Front", "", ""))

	all, err := db.List(context.Background(), 10, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.After(all[i-1].Timestamp) {
			t.Errorf("events not newest first: %v before %v", all[i-1].Timestamp, all[i].Timestamp)
		}
	}

	unknown, err := db.List(context.Background(), 10, StatusUnknown)
	if err != nil {
		t.Fatalf("List unknown: %v", err)
	}
	if len(unknown) != 2 {
		t.Errorf("unknown len = %d, want 2", len(unknown))
	}

	limited, err := db.List(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 1 || !limited[0].Timestamp.Equal(base.Add(2*time.Minute)) {
		t.Errorf("limit 1 returned %+v", limited)
	}
}

func TestUpdateIdentityIsTargeted(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)
	other := ts.Add(time.Second)

	target := mustInsert(t, db, NewDetectionEvent(ts, "", "Front", "", ""))
	corrected := mustInsert(t, db, NewDetectionEvent(ts, "Carol", "Front", "", ""))
	different := mustInsert(t, db, NewDetectionEvent(other, "", "Front", "", ""))

	n, err := db.UpdateIdentity(ctx, ts, "Alice")
	if err != nil {
		t.Fatalf("UpdateIdentity: %v", err)
	}
	if n != 1 {
		t.Errorf("rows affected = %d, want 1", n)
	}

	tests := []struct {
		id         int64
		wantName   string
		wantStatus Status
	}{
		{target, "Alice", StatusKnown},
		{corrected, "Carol", StatusKnown},
		{different, UnknownPerson, StatusUnknown},
	}
	for _, tt := range tests {
		ev, err := db.Get(ctx, tt.id)
		if err != nil {
			t.Fatalf("Get(%d): %v", tt.id, err)
		}
		if ev.PersonName != tt.wantName || ev.Status != tt.wantStatus {
			t.Errorf("event %d = (%q, %q), want (%q, %q)", tt.id, ev.PersonName, ev.Status, tt.wantName, tt.wantStatus)
		}
	}

	n, err = db.UpdateIdentity(ctx, ts, "Dave")
	if err != nil {
		t.Fatalf("second UpdateIdentity: %v", err)
	}
	if n != 0 {
		t.Errorf("second correction touched %d rows, want 0", n)
	}
}

func TestDeleteRunsCleanupFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id := mustInsert(t, db, NewDetectionEvent(time.Now(), "", "Front", "o.jpg", "z.jpg"))

	var cleaned *DetectionEvent
	err := db.Delete(ctx, id, func(ev *DetectionEvent) {
		cleaned = ev
		if _, err := db.Get(ctx, ev.ID); err != nil {
			t.Errorf("row already gone during cleanup: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if cleaned == nil || cleaned.OriginalPhotoPath != "o.jpg" || cleaned.ZoomPhotoPath != "z.jpg" {
		t.Errorf("cleanup got %+v", cleaned)
	}
	if _, err := db.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	db := newTestDB(t)
	called := false
	err := db.Delete(context.Background(), 42, func(*DetectionEvent) { called = true })
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if called {
		t.Error("cleanup ran for a missing event")
	}
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		days        int
		wantDeleted int
		wantLeft    int
	}{
		{"disabled when zero", 0, 0, 3},
		{"disabled when negative", -1, 0, 3},
		{"seven days", 7, 2, 1},
		{"thirty days", 30, 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			ctx := context.Background()
			mustInsert(t, db, NewDetectionEvent(now.AddDate(0, 0, -1), "", "Front", "", ""))
			mustInsert(t, db, NewDetectionEvent(now.AddDate(0, 0, -8), "", "Front", "", ""))
			mustInsert(t, db, NewDetectionEvent(now.AddDate(0, 0, -40), "Alice", "Front", "", ""))

			var cleaned int
			deleted, err := db.Prune(ctx, tt.days, now, func(*DetectionEvent) { cleaned++ })
			if err != nil {
				t.Fatalf("Prune: %v", err)
			}
			if deleted != tt.wantDeleted || cleaned != tt.wantDeleted {
				t.Errorf("deleted=%d cleaned=%d, want %d", deleted, cleaned, tt.wantDeleted)
			}
			left, err := db.List(ctx, 0, "")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(left) != tt.wantLeft {
				t.Errorf("left = %d, want %d", len(left), tt.wantLeft)
			}
			cutoff := now.AddDate(0, 0, -tt.days)
			for _, ev := range left {
				if tt.days > 0 && ev.Timestamp.Before(cutoff) {
					t.Errorf("event %d at %v survived cutoff %v", ev.ID, ev.Timestamp, cutoff)
				}
			}
		})
	}
}

func TestTimestampRoundTripKeepsMicroseconds(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.FixedZone("WIB", 7*3600))
	got, err := ParseTimestamp(FormatTimestamp(ts))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(ts.Truncate(time.Microsecond)) {
		t.Errorf("got %v, want %v", got, ts.Truncate(time.Microsecond))
	}
}
