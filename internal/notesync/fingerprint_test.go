package notesync_test

import (
	"testing"
	"time"

	"notesync-go/internal/notesync"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestFingerprint_Stability(t *testing.T) {
	start := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	f := notesync.Fields{
		Title:     "Dentist",
		Location:  "Main St",
		StartTime: &start,
		Completed: false,
	}

	a := notesync.Fingerprint(f)
	b := notesync.Fingerprint(f)
	if a != b {
		t.Errorf("same fields produced different fingerprints: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestFingerprint_SemanticFieldSensitivity(t *testing.T) {
	base := func() notesync.Fields {
		return notesync.Fields{
			Title:       "Buy milk",
			Description: "2%",
			Location:    "store",
			StartTime:   timePtr(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)),
			EndTime:     timePtr(time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)),
			Completed:   false,
		}
	}
	ref := notesync.Fingerprint(base())

	tests := []struct {
		name   string
		mutate func(*notesync.Fields)
	}{
		{"title", func(f *notesync.Fields) { f.Title = "Buy oat milk" }},
		{"description", func(f *notesync.Fields) { f.Description = "whole" }},
		{"location", func(f *notesync.Fields) { f.Location = "market" }},
		{"start time", func(f *notesync.Fields) { f.StartTime = timePtr(f.StartTime.Add(time.Hour)) }},
		{"end time", func(f *notesync.Fields) { f.EndTime = timePtr(f.EndTime.Add(time.Hour)) }},
		{"completed", func(f *notesync.Fields) { f.Completed = true }},
		{"start cleared", func(f *notesync.Fields) { f.StartTime = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base()
			tt.mutate(&f)
			if got := notesync.Fingerprint(f); got == ref {
				t.Errorf("changing %s did not change the fingerprint", tt.name)
			}
		})
	}
}

func TestFingerprint_TimeZoneNormalization(t *testing.T) {
	utc := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	cet := utc.In(time.FixedZone("CET", 3600))

	a := notesync.Fingerprint(notesync.Fields{Title: "x", StartTime: &utc})
	b := notesync.Fingerprint(notesync.Fields{Title: "x", StartTime: &cet})
	if a != b {
		t.Error("same instant in different zones produced different fingerprints")
	}
}

func TestFingerprint_NilVersusZeroTime(t *testing.T) {
	zero := time.Time{}
	a := notesync.Fingerprint(notesync.Fields{Title: "x"})
	b := notesync.Fingerprint(notesync.Fields{Title: "x", StartTime: &zero})
	if a == b {
		t.Error("nil and zero start time fingerprint the same")
	}
}

func TestEntity_Schedulable(t *testing.T) {
	start := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ent  notesync.Entity
		want bool
	}{
		{"timed task", notesync.Entity{StartTime: &start}, true},
		{"untimed note", notesync.Entity{}, false},
		{"completed but not archived", notesync.Entity{StartTime: &start, Completed: true}, true},
		{"completed and archived", notesync.Entity{StartTime: &start, Completed: true, Archived: true}, false},
		{"archived only", notesync.Entity{StartTime: &start, Archived: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ent.Schedulable(); got != tt.want {
				t.Errorf("Schedulable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFingerprint_IgnoresVolatileEntityFields(t *testing.T) {
	start := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	a := notesync.Entity{LocalID: "l1", Title: "x", StartTime: &start, UpdatedAt: time.Now()}
	b := notesync.Entity{LocalID: "l2", Title: "x", StartTime: &start, Archived: true, RemoteRef: "e9"}

	if notesync.Fingerprint(a.Fields()) != notesync.Fingerprint(b.Fields()) {
		t.Error("volatile fields leaked into the fingerprint")
	}
}
