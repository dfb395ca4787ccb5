package merge

import (
	"testing"

	"boardsync/conflict"
	"boardsync/domain"
)

func testBoard() *domain.Board {
	return &domain.Board{
		ID: "b1",
		Statuses: []domain.Status{
			{ID: "s1", BoardID: "b1", Title: "Todo", Order: 0, Tasks: []domain.Task{
				{ID: "t1", StatusID: "s1", Title: "one", Order: 0, Version: 1},
				{ID: "t2", StatusID: "s1", Title: "two", Order: 1, Version: 1},
			}},
			{ID: "s2", BoardID: "b1", Title: "Done", Order: 1, Tasks: []domain.Task{}},
		},
	}
}

func findTask(b *domain.Board, id string) (domain.Task, string, bool) {
	for _, st := range b.Statuses {
		for _, task := range st.Tasks {
			if task.ID == id {
				return task, st.ID, true
			}
		}
	}
	return domain.Task{}, "", false
}

func taskInsert(t *domain.Task) domain.FeedEvent {
	return domain.FeedEvent{Event: domain.FeedInsert, Table: domain.FeedTableTasks, ID: t.ID, Task: t}
}

func taskUpdate(t *domain.Task) domain.FeedEvent {
	return domain.FeedEvent{Event: domain.FeedUpdate, Table: domain.FeedTableTasks, ID: t.ID, Task: t}
}

func taskDelete(id string) domain.FeedEvent {
	return domain.FeedEvent{Event: domain.FeedDelete, Table: domain.FeedTableTasks, ID: id}
}

func TestInsertIsIdempotent(t *testing.T) {
	e := New(nil)
	b := testBoard()
	ev := taskInsert(&domain.Task{ID: "t3", StatusID: "s2", Title: "three"})

	once := e.Apply(b, ev)
	twice := e.Apply(once, ev)

	if _, statusID, ok := findTask(twice, "t3"); !ok || statusID != "s2" {
		t.Fatalf("t3 not inserted into s2: ok=%v status=%s", ok, statusID)
	}
	if len(twice.Statuses[1].Tasks) != 1 {
		t.Fatalf("duplicate insert produced %d tasks", len(twice.Statuses[1].Tasks))
	}
	if twice != once {
		t.Fatal("replayed insert should be a pointer-identical no-op")
	}
}

func TestInsertExistingIDIsNoop(t *testing.T) {
	e := New(nil)
	b := testBoard()
	next := e.Apply(b, taskInsert(&domain.Task{ID: "t1", StatusID: "s2", Title: "shadow"}))
	if next != b {
		t.Fatal("insert of resident id must not change state")
	}
}

func TestUpdateReplacesFieldsInPlace(t *testing.T) {
	e := New(nil)
	b := testBoard()
	next := e.Apply(b, taskUpdate(&domain.Task{ID: "t1", StatusID: "s1", Title: "renamed", Order: 0, Version: 2}))

	task, statusID, ok := findTask(next, "t1")
	if !ok || statusID != "s1" {
		t.Fatalf("t1 missing after update: ok=%v status=%s", ok, statusID)
	}
	if task.Title != "renamed" || task.Version != 2 {
		t.Fatalf("fields not replaced: %+v", task)
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	e := New(nil)
	b := testBoard()
	ev := taskUpdate(&domain.Task{ID: "t1", StatusID: "s1", Title: "renamed", Order: 0, Version: 2})

	once := e.Apply(b, ev)
	twice := e.Apply(once, ev)

	t1, _, _ := findTask(once, "t1")
	t2, _, _ := findTask(twice, "t2")
	if t1.Title != "renamed" || t2.Title != "two" {
		t.Fatalf("unexpected state after replay: %+v %+v", t1, t2)
	}
	if len(twice.Statuses[0].Tasks) != len(once.Statuses[0].Tasks) {
		t.Fatal("replayed update changed list length")
	}
}

func TestUpdateWithParentChangeMovesTask(t *testing.T) {
	e := New(nil)
	b := testBoard()
	next := e.Apply(b, taskUpdate(&domain.Task{ID: "t2", StatusID: "s2", Title: "two", Order: 0, Version: 2}))

	if _, statusID, _ := findTask(next, "t2"); statusID != "s2" {
		t.Fatalf("t2 in %s, want s2", statusID)
	}
	if len(next.Statuses[0].Tasks) != 1 || next.Statuses[0].Tasks[0].Order != 0 {
		t.Fatalf("source list not reindexed: %+v", next.Statuses[0].Tasks)
	}
}

func TestUpdateBeforeInsertBehavesAsInsert(t *testing.T) {
	e := New(nil)
	b := testBoard()
	next := e.Apply(b, taskUpdate(&domain.Task{ID: "t9", StatusID: "s2", Title: "late arrival", Version: 3}))

	task, statusID, ok := findTask(next, "t9")
	if !ok {
		t.Fatal("update for unknown id was dropped instead of inserted")
	}
	if statusID != "s2" || task.Title != "late arrival" {
		t.Fatalf("defensive insert wrong: %+v in %s", task, statusID)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	e := New(nil)
	b := testBoard()
	once := e.Apply(b, taskDelete("t1"))
	twice := e.Apply(once, taskDelete("t1"))

	if _, _, ok := findTask(twice, "t1"); ok {
		t.Fatal("t1 still resident after delete")
	}
	if twice != once {
		t.Fatal("replayed delete should be a pointer-identical no-op")
	}
}

func TestGhostUpdateAfterDeleteResurrects(t *testing.T) {
	e := New(nil)
	b := testBoard()
	gone := e.Apply(b, taskDelete("t1"))
	back := e.Apply(gone, taskUpdate(&domain.Task{ID: "t1", StatusID: "s1", Title: "ghost", Version: 5}))

	task, _, ok := findTask(back, "t1")
	if !ok || task.Title != "ghost" {
		t.Fatalf("ghost update did not resurrect: ok=%v %+v", ok, task)
	}
}

func TestLocalOptimisticEditWinsOverStaleRemote(t *testing.T) {
	e := New(nil)
	b := testBoard()
	e.TrackTask("t1", conflict.Versioned[domain.Task]{
		Data:    domain.Task{ID: "t1", StatusID: "s1", Title: "local edit"},
		Version: 9, UpdatedAt: 900,
	})

	next := e.Apply(b, taskUpdate(&domain.Task{ID: "t1", StatusID: "s1", Title: "stale remote", Version: 2, UpdatedAt: 100}))
	if next != b {
		t.Fatal("stale remote update should not clobber a newer local edit")
	}
	if e.PendingConflicts() != 0 {
		t.Fatalf("pending conflicts = %d, want 0", e.PendingConflicts())
	}
}

func TestNewerRemoteWinsOverLocalEdit(t *testing.T) {
	e := New(nil)
	b := testBoard()
	e.TrackTask("t1", conflict.Versioned[domain.Task]{
		Data:    domain.Task{ID: "t1", StatusID: "s1", Title: "local edit"},
		Version: 2, UpdatedAt: 100,
	})

	next := e.Apply(b, taskUpdate(&domain.Task{ID: "t1", StatusID: "s1", Title: "newer remote", Version: 7, UpdatedAt: 900}))
	task, _, _ := findTask(next, "t1")
	if task.Title != "newer remote" {
		t.Fatalf("remote update lost: %+v", task)
	}
	// Tracking is dropped once the remote version is authoritative.
	again := e.Apply(next, taskUpdate(&domain.Task{ID: "t1", StatusID: "s1", Title: "follow-up", Version: 8, UpdatedAt: 950}))
	if task, _, _ := findTask(again, "t1"); task.Title != "follow-up" {
		t.Fatalf("follow-up update lost: %+v", task)
	}
}

func TestStatusInsertUpdateDelete(t *testing.T) {
	e := New(nil)
	b := testBoard()

	next := e.Apply(b, domain.FeedEvent{
		Event: domain.FeedInsert, Table: domain.FeedTableStatuses, ID: "s3",
		Status: &domain.Status{ID: "s3", Title: "Review", Order: 2},
	})
	if len(next.Statuses) != 3 {
		t.Fatalf("status insert failed: %d statuses", len(next.Statuses))
	}

	next = e.Apply(next, domain.FeedEvent{
		Event: domain.FeedUpdate, Table: domain.FeedTableStatuses, ID: "s3",
		Status: &domain.Status{ID: "s3", Title: "In Review", Order: 2},
	})
	if next.Statuses[2].Title != "In Review" {
		t.Fatalf("status update failed: %+v", next.Statuses[2])
	}

	next = e.Apply(next, domain.FeedEvent{Event: domain.FeedDelete, Table: domain.FeedTableStatuses, ID: "s3"})
	if len(next.Statuses) != 2 {
		t.Fatalf("status delete failed: %d statuses", len(next.Statuses))
	}
}

func TestStatusUpdateBeforeInsert(t *testing.T) {
	e := New(nil)
	b := testBoard()
	next := e.Apply(b, domain.FeedEvent{
		Event: domain.FeedUpdate, Table: domain.FeedTableStatuses, ID: "s7",
		Status: &domain.Status{ID: "s7", Title: "Backlog", Order: 0},
	})
	found := false
	for _, st := range next.Statuses {
		if st.ID == "s7" {
			found = true
		}
	}
	if !found {
		t.Fatal("status update for unknown id was not applied as insert")
	}
}

func TestUnknownTableAndEventAreNoops(t *testing.T) {
	e := New(nil)
	b := testBoard()
	if next := e.Apply(b, domain.FeedEvent{Event: domain.FeedInsert, Table: "comments", ID: "c1"}); next != b {
		t.Fatal("unknown table must be a no-op")
	}
	if next := e.Apply(b, domain.FeedEvent{Event: "TRUNCATE", Table: domain.FeedTableTasks, ID: "t1"}); next != b {
		t.Fatal("unknown event must be a no-op")
	}
}
