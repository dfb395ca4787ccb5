package board

import "boardsync/domain"

// Index is a flattened id lookup over one immutable snapshot. It is rebuilt
// whenever the snapshot changes and must not outlive it.
type Index struct {
	tasks    map[string]*domain.Task
	statuses map[string]*domain.Status
}

// BuildIndex flattens the snapshot into id maps. The returned pointers
// reference the snapshot directly; callers must treat them as read-only.
func BuildIndex(b *domain.Board) *Index {
	ix := &Index{
		tasks:    make(map[string]*domain.Task),
		statuses: make(map[string]*domain.Status),
	}
	if b == nil {
		return ix
	}
	for si := range b.Statuses {
		st := &b.Statuses[si]
		ix.statuses[st.ID] = st
		for ti := range st.Tasks {
			ix.tasks[st.Tasks[ti].ID] = &st.Tasks[ti]
		}
	}
	return ix
}

// Task returns the task with the given id, if resident anywhere on the board.
func (ix *Index) Task(id string) (*domain.Task, bool) {
	t, ok := ix.tasks[id]
	return t, ok
}

// Status returns the status with the given id.
func (ix *Index) Status(id string) (*domain.Status, bool) {
	s, ok := ix.statuses[id]
	return s, ok
}

// HasTask reports whether the id names a resident task.
func (ix *Index) HasTask(id string) bool {
	_, ok := ix.tasks[id]
	return ok
}

// HasStatus reports whether the id names a resident status.
func (ix *Index) HasStatus(id string) bool {
	_, ok := ix.statuses[id]
	return ok
}
