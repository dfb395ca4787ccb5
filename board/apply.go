// Package board implements the canonical in-memory board state and its pure
// transition function. Apply never mutates its input: every transition
// copy-on-writes a fresh snapshot, so concurrent readers of the previous
// snapshot are safe by construction.
package board

import (
	"sort"

	"boardsync/domain"
)

// Apply returns the state produced by applying m to state. It is total:
// unknown mutation kinds, nil payloads and references to ids that do not
// exist are no-ops returning state unchanged. It never panics and never
// mutates state in place.
func Apply(state *domain.Board, m domain.Mutation) *domain.Board {
	if state == nil && m.Kind != domain.MutationSetBoard {
		return state
	}
	switch m.Kind {
	case domain.MutationSetBoard:
		if m.Board == nil {
			return state
		}
		next := m.Board.Clone()
		Normalize(next)
		return next
	case domain.MutationAddTask:
		return addTask(state, m.Task)
	case domain.MutationUpdateTask:
		return updateTask(state, m.ID, m.TaskPatch)
	case domain.MutationDeleteTask:
		return deleteTask(state, m.ID)
	case domain.MutationMoveTask:
		return moveTask(state, m.ID, m.TargetStatusID, m.TargetIndex)
	case domain.MutationReorderTasks:
		return reorderTasks(state, m.StatusID, m.OrderedIDs)
	case domain.MutationAddStatus:
		return addStatus(state, m.Status)
	case domain.MutationUpdateStatus:
		return updateStatus(state, m.ID, m.StatusPatch)
	case domain.MutationDeleteStatus:
		return deleteStatus(state, m.ID)
	case domain.MutationReorderStatuses:
		return reorderStatuses(state, m.OrderedIDs)
	default:
		return state
	}
}

func addTask(state *domain.Board, t *domain.Task) *domain.Board {
	if t == nil || t.ID == "" {
		return state
	}
	if _, _, ok := locateTask(state, t.ID); ok {
		return state
	}
	si, ok := locateStatus(state, t.StatusID)
	if !ok {
		return state
	}
	next := state.Clone()
	st := &next.Statuses[si]
	st.Tasks = append(st.Tasks, *t)
	sortTasks(st)
	reindexTasks(st)
	return next
}

func updateTask(state *domain.Board, id string, p *domain.TaskPatch) *domain.Board {
	if p == nil {
		return state
	}
	si, ti, ok := locateTask(state, id)
	if !ok {
		return state
	}
	cur := state.Statuses[si].Tasks[ti]
	merged := mergeTask(cur, p)

	moved := p.StatusID != nil && *p.StatusID != cur.StatusID
	if moved {
		if _, ok := locateStatus(state, *p.StatusID); !ok {
			// Target status unknown: apply the field changes but keep the
			// task where it is.
			merged.StatusID = cur.StatusID
			moved = false
		}
	}

	next := state.Clone()
	if moved {
		src := &next.Statuses[si]
		src.Tasks = append(src.Tasks[:ti], src.Tasks[ti+1:]...)
		reindexTasks(src)
		di, _ := locateStatus(next, merged.StatusID)
		dst := &next.Statuses[di]
		dst.Tasks = append(dst.Tasks, merged)
		sortTasks(dst)
		reindexTasks(dst)
		return next
	}

	st := &next.Statuses[si]
	st.Tasks[ti] = merged
	if p.Order != nil && *p.Order != cur.Order {
		sortTasks(st)
		reindexTasks(st)
	}
	return next
}

func deleteTask(state *domain.Board, id string) *domain.Board {
	si, ti, ok := locateTask(state, id)
	if !ok {
		return state
	}
	next := state.Clone()
	st := &next.Statuses[si]
	st.Tasks = append(st.Tasks[:ti], st.Tasks[ti+1:]...)
	reindexTasks(st)
	return next
}

func moveTask(state *domain.Board, id, targetStatusID string, targetIndex int) *domain.Board {
	si, ti, ok := locateTask(state, id)
	if !ok {
		return state
	}
	di, ok := locateStatus(state, targetStatusID)
	if !ok {
		return state
	}

	next := state.Clone()
	src := &next.Statuses[si]
	task := src.Tasks[ti]
	src.Tasks = append(src.Tasks[:ti], src.Tasks[ti+1:]...)

	dst := &next.Statuses[di]
	if targetIndex < 0 {
		targetIndex = 0
	}
	if targetIndex > len(dst.Tasks) {
		targetIndex = len(dst.Tasks)
	}
	task.StatusID = dst.ID
	dst.Tasks = append(dst.Tasks, domain.Task{})
	copy(dst.Tasks[targetIndex+1:], dst.Tasks[targetIndex:])
	dst.Tasks[targetIndex] = task

	reindexTasks(src)
	if di != si {
		reindexTasks(dst)
	}
	return next
}

func reorderTasks(state *domain.Board, statusID string, orderedIDs []string) *domain.Board {
	si, ok := locateStatus(state, statusID)
	if !ok {
		return state
	}
	next := state.Clone()
	st := &next.Statuses[si]

	byID := make(map[string]domain.Task, len(st.Tasks))
	for _, t := range st.Tasks {
		byID[t.ID] = t
	}
	reordered := make([]domain.Task, 0, len(st.Tasks))
	for _, id := range orderedIDs {
		t, ok := byID[id]
		if !ok {
			// Ids not resident in this status are silently dropped; they
			// may reference tasks deleted by a racing feed event.
			continue
		}
		delete(byID, id)
		reordered = append(reordered, t)
	}
	// Tasks omitted from the new sequence keep their relative order at the
	// tail rather than vanishing.
	for _, t := range st.Tasks {
		if _, left := byID[t.ID]; left {
			reordered = append(reordered, t)
		}
	}
	st.Tasks = reordered
	reindexTasks(st)
	return next
}

func addStatus(state *domain.Board, s *domain.Status) *domain.Board {
	if s == nil || s.ID == "" {
		return state
	}
	if _, ok := locateStatus(state, s.ID); ok {
		return state
	}
	next := state.Clone()
	ns := *s
	ns.BoardID = next.ID
	if ns.Tasks == nil {
		ns.Tasks = []domain.Task{}
	}
	next.Statuses = append(next.Statuses, ns)
	sortStatuses(next)
	reindexStatuses(next)
	return next
}

func updateStatus(state *domain.Board, id string, p *domain.StatusPatch) *domain.Board {
	if p == nil {
		return state
	}
	si, ok := locateStatus(state, id)
	if !ok {
		return state
	}
	cur := state.Statuses[si]
	next := state.Clone()
	st := &next.Statuses[si]
	if p.Title != nil {
		st.Title = *p.Title
	}
	if p.Order != nil {
		st.Order = *p.Order
	}
	if p.Order != nil && *p.Order != cur.Order {
		sortStatuses(next)
		reindexStatuses(next)
	}
	return next
}

func deleteStatus(state *domain.Board, id string) *domain.Board {
	si, ok := locateStatus(state, id)
	if !ok {
		return state
	}
	next := state.Clone()
	next.Statuses = append(next.Statuses[:si], next.Statuses[si+1:]...)
	reindexStatuses(next)
	return next
}

func reorderStatuses(state *domain.Board, orderedIDs []string) *domain.Board {
	next := state.Clone()
	byID := make(map[string]domain.Status, len(next.Statuses))
	for _, s := range next.Statuses {
		byID[s.ID] = s
	}
	reordered := make([]domain.Status, 0, len(next.Statuses))
	for _, id := range orderedIDs {
		s, ok := byID[id]
		if !ok {
			continue
		}
		delete(byID, id)
		reordered = append(reordered, s)
	}
	for _, s := range next.Statuses {
		if _, left := byID[s.ID]; left {
			reordered = append(reordered, s)
		}
	}
	next.Statuses = reordered
	reindexStatuses(next)
	return next
}

func mergeTask(cur domain.Task, p *domain.TaskPatch) domain.Task {
	if p.StatusID != nil {
		cur.StatusID = *p.StatusID
	}
	if p.Title != nil {
		cur.Title = *p.Title
	}
	if p.Description != nil {
		cur.Description = *p.Description
	}
	if p.Priority != nil {
		cur.Priority = *p.Priority
	}
	if p.Tags != nil {
		cur.Tags = *p.Tags
	}
	if p.Assignee != nil {
		cur.Assignee = *p.Assignee
	}
	if p.DueDate != nil {
		cur.DueDate = *p.DueDate
	}
	if p.Order != nil {
		cur.Order = *p.Order
	}
	if p.Version != nil {
		cur.Version = *p.Version
	}
	if p.UpdatedAt != nil {
		cur.UpdatedAt = *p.UpdatedAt
	}
	if p.UpdatedBy != nil {
		cur.UpdatedBy = *p.UpdatedBy
	}
	return cur
}

func locateTask(state *domain.Board, id string) (statusIdx, taskIdx int, ok bool) {
	if state == nil || id == "" {
		return 0, 0, false
	}
	for si := range state.Statuses {
		for ti := range state.Statuses[si].Tasks {
			if state.Statuses[si].Tasks[ti].ID == id {
				return si, ti, true
			}
		}
	}
	return 0, 0, false
}

func locateStatus(state *domain.Board, id string) (int, bool) {
	if state == nil || id == "" {
		return 0, false
	}
	for si := range state.Statuses {
		if state.Statuses[si].ID == id {
			return si, true
		}
	}
	return 0, false
}

func sortTasks(st *domain.Status) {
	sort.SliceStable(st.Tasks, func(i, j int) bool { return st.Tasks[i].Order < st.Tasks[j].Order })
}

func sortStatuses(b *domain.Board) {
	sort.SliceStable(b.Statuses, func(i, j int) bool { return b.Statuses[i].Order < b.Statuses[j].Order })
}

func reindexTasks(st *domain.Status) {
	for i := range st.Tasks {
		st.Tasks[i].Order = i
		st.Tasks[i].StatusID = st.ID
	}
}

func reindexStatuses(b *domain.Board) {
	for i := range b.Statuses {
		b.Statuses[i].Order = i
	}
}

// Normalize sorts every list by order and reindexes it to a dense 0..n-1
// sequence in place. Used when an authoritative board arrives from outside
// the reducer, where order values may be sparse.
func Normalize(b *domain.Board) {
	if b == nil {
		return
	}
	sortStatuses(b)
	reindexStatuses(b)
	for i := range b.Statuses {
		st := &b.Statuses[i]
		st.BoardID = b.ID
		sortTasks(st)
		reindexTasks(st)
	}
}
