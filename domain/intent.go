package domain

// IntentKind discriminates persistence intents emitted after an optimistic
// mutation has been applied locally.
type IntentKind string

const (
	IntentReorder IntentKind = "reorder"
	IntentMove    IntentKind = "move"
	IntentMutate  IntentKind = "mutate"
)

// TaskOrder pairs a task id with its new dense order index.
type TaskOrder struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// Intent is a fire-and-forget write request for the persistence gateway.
// The engine does not await inline confirmation: failures are recovered by
// resyncing the board, not by compensating mutations.
type Intent struct {
	Kind IntentKind `json:"kind"`

	// IdempotencyKey deduplicates redelivered intents downstream.
	IdempotencyKey string `json:"idempotencyKey"`

	// StatusID and Tasks describe a reorder within one status.
	StatusID string      `json:"statusId,omitempty"`
	Tasks    []TaskOrder `json:"tasks,omitempty"`

	// TaskID and Order describe a cross-status move into StatusID.
	TaskID string `json:"taskId,omitempty"`
	Order  int    `json:"order,omitempty"`

	// Mutation carries any other optimistic write verbatim.
	Mutation *Mutation `json:"mutation,omitempty"`

	Timestamp int64 `json:"timestamp"`
}

// IntentEnvelope wraps an intent with the board it applies to when enqueued
// to the persistence queue.
type IntentEnvelope struct {
	BoardID string `json:"boardId"`
	Intent  Intent `json:"intent"`
}
