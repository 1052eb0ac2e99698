package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"notesync-go/internal/notesync"
)

func testWindow() notesync.Window {
	return notesync.Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func ts(day int) *time.Time {
	t := time.Date(2024, 3, day, 10, 0, 0, 0, time.UTC)
	return &t
}

func TestMemory_FullScan(t *testing.T) {
	m := NewMemory("cal-1")
	ctx := context.Background()

	m.Seed(notesync.RemoteItem{Title: "inside", StartTime: ts(1)})
	outside := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	m.Seed(notesync.RemoteItem{Title: "outside", StartTime: &outside})
	m.Seed(notesync.RemoteItem{Title: "untimed"})

	list, err := m.ListChanged(ctx, notesync.Checkpoint{}, testWindow())
	if err != nil {
		t.Fatalf("ListChanged() error = %v", err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(list.Items))
	}
	if list.Next.IsZero() {
		t.Error("Next checkpoint is zero, want issued token")
	}
}

func TestMemory_Incremental(t *testing.T) {
	m := NewMemory("cal-1")
	ctx := context.Background()

	m.Seed(notesync.RemoteItem{Title: "first", StartTime: ts(1)})

	list, err := m.ListChanged(ctx, notesync.Checkpoint{}, testWindow())
	if err != nil {
		t.Fatalf("full scan error = %v", err)
	}
	cp := list.Next

	t.Run("nothing changed yields empty list", func(t *testing.T) {
		list, err := m.ListChanged(ctx, cp, testWindow())
		if err != nil {
			t.Fatalf("ListChanged() error = %v", err)
		}
		if len(list.Items) != 0 {
			t.Errorf("len(Items) = %d, want 0", len(list.Items))
		}
	})

	t.Run("mutation shows up once", func(t *testing.T) {
		id := m.Seed(notesync.RemoteItem{Title: "second", StartTime: ts(2)})
		if err := m.Mutate(id, func(it *notesync.RemoteItem) { it.Title = "second, edited" }); err != nil {
			t.Fatalf("Mutate() error = %v", err)
		}

		list, err := m.ListChanged(ctx, cp, testWindow())
		if err != nil {
			t.Fatalf("ListChanged() error = %v", err)
		}
		if len(list.Items) != 1 {
			t.Fatalf("len(Items) = %d, want 1", len(list.Items))
		}
		if list.Items[0].Title != "second, edited" {
			t.Errorf("Title = %q, want %q", list.Items[0].Title, "second, edited")
		}
	})

	t.Run("deleted item is not listed", func(t *testing.T) {
		id := m.Seed(notesync.RemoteItem{Title: "doomed", StartTime: ts(3)})
		before, err := m.ListChanged(ctx, cp, testWindow())
		if err != nil {
			t.Fatalf("ListChanged() error = %v", err)
		}
		if err := m.Delete(ctx, id); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		after, err := m.ListChanged(ctx, before.Next, testWindow())
		if err != nil {
			t.Fatalf("ListChanged() error = %v", err)
		}
		for _, it := range after.Items {
			if it.RemoteID == id {
				t.Errorf("deleted item %s still listed", id)
			}
		}
	})
}

func TestMemory_CheckpointInvalidation(t *testing.T) {
	m := NewMemory("cal-1")
	ctx := context.Background()

	list, err := m.ListChanged(ctx, notesync.Checkpoint{}, testWindow())
	if err != nil {
		t.Fatalf("full scan error = %v", err)
	}

	m.InvalidateCheckpoints()

	_, err = m.ListChanged(ctx, list.Next, testWindow())
	if !errors.Is(err, notesync.ErrCheckpointInvalid) {
		t.Fatalf("ListChanged() error = %v, want ErrCheckpointInvalid", err)
	}

	// A fresh full scan clears the invalidation.
	list, err = m.ListChanged(ctx, notesync.Checkpoint{}, testWindow())
	if err != nil {
		t.Fatalf("recovery scan error = %v", err)
	}
	if _, err := m.ListChanged(ctx, list.Next, testWindow()); err != nil {
		t.Fatalf("post-recovery incremental error = %v", err)
	}
}

func TestMemory_CRUD(t *testing.T) {
	m := NewMemory("cal-1")
	ctx := context.Background()

	id, err := m.Create(ctx, notesync.RemoteItem{Title: "task", StartTime: ts(5)})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id == "" {
		t.Fatal("Create() returned empty id")
	}

	got, ok := m.Get(id)
	if !ok {
		t.Fatalf("item %s not stored", id)
	}
	if got.CollectionID != "cal-1" {
		t.Errorf("CollectionID = %q, want %q", got.CollectionID, "cal-1")
	}

	if err := m.Update(ctx, id, notesync.RemoteItem{Title: "task v2", StartTime: ts(5)}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ = m.Get(id)
	if got.Title != "task v2" {
		t.Errorf("Title = %q, want %q", got.Title, "task v2")
	}

	if err := m.Update(ctx, "missing", notesync.RemoteItem{}); !errors.Is(err, notesync.ErrRemoteNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrRemoteNotFound", err)
	}

	if err := m.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := m.Delete(ctx, id); !errors.Is(err, notesync.ErrRemoteNotFound) {
		t.Errorf("second Delete() error = %v, want ErrRemoteNotFound", err)
	}
}

func TestMemory_FailNextWith(t *testing.T) {
	m := NewMemory("cal-1")
	ctx := context.Background()

	m.FailNextWith(notesync.ErrNetwork)
	if _, err := m.ListChanged(ctx, notesync.Checkpoint{}, testWindow()); !errors.Is(err, notesync.ErrNetwork) {
		t.Fatalf("ListChanged() error = %v, want ErrNetwork", err)
	}

	// The failure is consumed; the next call succeeds.
	if _, err := m.ListChanged(ctx, notesync.Checkpoint{}, testWindow()); err != nil {
		t.Fatalf("second ListChanged() error = %v", err)
	}
}
