package domain

import "github.com/bytedance/sonic"

// Feed event and table discriminators as delivered on the change feed.
const (
	FeedInsert = "INSERT"
	FeedUpdate = "UPDATE"
	FeedDelete = "DELETE"

	FeedTableTasks    = "tasks"
	FeedTableStatuses = "statuses"
)

// FeedEvent is a normalized change-feed notification. Exactly one of Task
// or Status is set for INSERT/UPDATE depending on Table; ID is always set.
type FeedEvent struct {
	Event  string
	Table  string
	ID     string
	Task   *Task
	Status *Status
}

type feedRef struct {
	ID string `json:"id"`
}

type feedPayload struct {
	Event string                 `json:"event"`
	Table string                 `json:"table"`
	New   sonic.NoCopyRawMessage `json:"new,omitempty"`
	Old   *feedRef               `json:"old,omitempty"`
}

// ParseFeedEvent decodes a raw change-feed payload into a FeedEvent. It
// returns false for anything it cannot make sense of: unknown event or
// table discriminators, undecodable rows, or rows missing an id. Malformed
// feed data is dropped, never an error.
func ParseFeedEvent(data []byte) (FeedEvent, bool) {
	var p feedPayload
	if err := sonic.Unmarshal(data, &p); err != nil {
		return FeedEvent{}, false
	}
	if p.Table != FeedTableTasks && p.Table != FeedTableStatuses {
		return FeedEvent{}, false
	}

	ev := FeedEvent{Event: p.Event, Table: p.Table}
	switch p.Event {
	case FeedInsert, FeedUpdate:
		if len(p.New) == 0 {
			return FeedEvent{}, false
		}
		if p.Table == FeedTableTasks {
			var t Task
			if err := sonic.Unmarshal(p.New, &t); err != nil || t.ID == "" {
				return FeedEvent{}, false
			}
			ev.ID = t.ID
			ev.Task = &t
		} else {
			var s Status
			if err := sonic.Unmarshal(p.New, &s); err != nil || s.ID == "" {
				return FeedEvent{}, false
			}
			s.Tasks = nil
			ev.ID = s.ID
			ev.Status = &s
		}
	case FeedDelete:
		if p.Old == nil || p.Old.ID == "" {
			return FeedEvent{}, false
		}
		ev.ID = p.Old.ID
	default:
		return FeedEvent{}, false
	}
	return ev, true
}
