package domain

// Task represents a single card within a status column. The engine treats
// the descriptive fields as opaque; only ID, StatusID and Order drive state
// transitions.
type Task struct {
	ID          string   `json:"id"`
	StatusID    string   `json:"statusId"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	DueDate     int64    `json:"dueDate,omitempty"`
	Order       int      `json:"order"`
	Version     int64    `json:"version,omitempty"`
	UpdatedAt   int64    `json:"updatedAt,omitempty"`
	UpdatedBy   string   `json:"updatedBy,omitempty"`
}

// Status is an ordered column of tasks belonging to exactly one board.
type Status struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	Title   string `json:"title"`
	Order   int    `json:"order"`
	Tasks   []Task `json:"tasks"`
}

// Board is the top-level container of ordered statuses.
type Board struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Statuses []Status `json:"statuses"`
}

// Clone returns a deep copy of the board. Snapshots handed out by the
// reducer are immutable by convention; Clone is for callers that need a
// mutable working copy.
func (b *Board) Clone() *Board {
	if b == nil {
		return nil
	}
	out := &Board{ID: b.ID, Title: b.Title}
	if b.Statuses != nil {
		out.Statuses = make([]Status, len(b.Statuses))
		for i, s := range b.Statuses {
			cs := s
			if s.Tasks != nil {
				cs.Tasks = make([]Task, len(s.Tasks))
				copy(cs.Tasks, s.Tasks)
			}
			out.Statuses[i] = cs
		}
	}
	return out
}
