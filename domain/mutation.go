package domain

// MutationKind discriminates the board mutation union.
type MutationKind string

const (
	MutationSetBoard        MutationKind = "set-board"
	MutationAddTask         MutationKind = "add-task"
	MutationUpdateTask      MutationKind = "update-task"
	MutationDeleteTask      MutationKind = "delete-task"
	MutationMoveTask        MutationKind = "move-task"
	MutationReorderTasks    MutationKind = "reorder-tasks"
	MutationAddStatus       MutationKind = "add-status"
	MutationUpdateStatus    MutationKind = "update-status"
	MutationDeleteStatus    MutationKind = "delete-status"
	MutationReorderStatuses MutationKind = "reorder-statuses"
)

// TaskPatch carries a partial task update. Nil fields are left untouched.
type TaskPatch struct {
	StatusID    *string   `json:"statusId,omitempty"`
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *string   `json:"priority,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Assignee    *string   `json:"assignee,omitempty"`
	DueDate     *int64    `json:"dueDate,omitempty"`
	Order       *int      `json:"order,omitempty"`
	Version     *int64    `json:"version,omitempty"`
	UpdatedAt   *int64    `json:"updatedAt,omitempty"`
	UpdatedBy   *string   `json:"updatedBy,omitempty"`
}

// StatusPatch carries a partial status update. Nil fields are left untouched.
type StatusPatch struct {
	Title *string `json:"title,omitempty"`
	Order *int    `json:"order,omitempty"`
}

// Mutation is the tagged write request applied by the board reducer. Which
// fields are meaningful depends on Kind; the reducer ignores the rest.
type Mutation struct {
	Kind MutationKind `json:"kind"`

	// Board is the full replacement state for set-board.
	Board *Board `json:"board,omitempty"`

	// Task is the entity being inserted for add-task.
	Task *Task `json:"task,omitempty"`
	// Status is the entity being inserted for add-status.
	Status *Status `json:"status,omitempty"`

	// ID targets an existing task or status for update, delete and move.
	ID string `json:"id,omitempty"`

	// TaskPatch and StatusPatch carry partial updates.
	TaskPatch   *TaskPatch   `json:"taskPatch,omitempty"`
	StatusPatch *StatusPatch `json:"statusPatch,omitempty"`

	// StatusID scopes reorder-tasks; TargetStatusID and TargetIndex drive
	// move-task.
	StatusID       string `json:"statusId,omitempty"`
	TargetStatusID string `json:"targetStatusId,omitempty"`
	TargetIndex    int    `json:"targetIndex,omitempty"`

	// OrderedIDs is the new id sequence for reorder-tasks and
	// reorder-statuses.
	OrderedIDs []string `json:"orderedIds,omitempty"`
}
