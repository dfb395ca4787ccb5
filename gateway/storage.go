// Package gateway is the persistence side of the engine: authoritative board
// reads from Azure Table Storage and fire-and-forget mutation intents onto an
// Azure Queue. The engine never awaits intent outcomes inline; failed writes
// are recovered by resyncing the board.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"boardsync/board"
	"boardsync/domain"
)

// Storage provides access to the underlying persistence mechanisms.
type Storage struct {
	boardTable  *aztables.Client
	statusTable *aztables.Client
	taskTable   *aztables.Client
	intentQueue *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, boardsTable, statusesTable, tasksTable, intentQueue string) (*Storage, error) {
	// 429 is deliberately absent from the retryable status codes: throttling
	// must surface to the orchestrator as a distinct error kind, not vanish
	// into SDK-internal retries.
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 500, 502, 503, 504},
			},
		},
	}
	iq, err := azqueue.NewQueueClientFromConnectionString(connStr, intentQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		boardTable:  svc.NewClient(boardsTable),
		statusTable: svc.NewClient(statusesTable),
		taskTable:   svc.NewClient(tasksTable),
		intentQueue: iq,
	}, nil
}

type boardEntity struct {
	aztables.Entity
	Title string `json:"Title"`
}

type statusEntity struct {
	aztables.Entity
	Title    string `json:"Title"`
	Position int    `json:"Position"`
}

type taskEntity struct {
	aztables.Entity
	StatusID    string `json:"StatusId"`
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Priority    string `json:"Priority"`
	Tags        string `json:"Tags"`
	Assignee    string `json:"Assignee"`
	DueDate     int64  `json:"DueDate"`
	Position    int    `json:"Position"`
	Version     int64  `json:"Version"`
	UpdatedAt   int64  `json:"UpdatedAt"`
	UpdatedBy   string `json:"UpdatedBy"`
}

func decodeStatusEntity(data []byte) (domain.Status, error) {
	var ent statusEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Status{}, err
	}
	return domain.Status{
		ID:      ent.RowKey,
		BoardID: ent.PartitionKey,
		Title:   ent.Title,
		Order:   ent.Position,
		Tasks:   []domain.Task{},
	}, nil
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:          ent.RowKey,
		StatusID:    ent.StatusID,
		Title:       ent.Title,
		Description: ent.Description,
		Priority:    ent.Priority,
		Assignee:    ent.Assignee,
		DueDate:     ent.DueDate,
		Order:       ent.Position,
		Version:     ent.Version,
		UpdatedAt:   ent.UpdatedAt,
		UpdatedBy:   ent.UpdatedBy,
	}
	if ent.Tags != "" {
		// Tags are stored as a JSON array in a single column; a column we
		// cannot parse degrades to no tags rather than a failed fetch.
		_ = json.Unmarshal([]byte(ent.Tags), &t.Tags)
	}
	return t, nil
}

// FetchBoard reads the authoritative state of one board: its metadata row,
// every status partitioned under it and every task, assembled into a
// normalized snapshot. Tasks referencing a status that no longer exists are
// skipped; the feed will converge them.
func (s *Storage) FetchBoard(ctx context.Context, boardID string) (*domain.Board, error) {
	ent, err := s.boardTable.GetEntity(ctx, boardID, boardID, nil)
	if err != nil {
		return nil, classify(err)
	}
	var be boardEntity
	if err := json.Unmarshal(ent.Value, &be); err != nil {
		return nil, err
	}
	b := &domain.Board{ID: boardID, Title: be.Title, Statuses: []domain.Status{}}

	filter := "PartitionKey eq '" + boardID + "'"
	statusPager := s.statusTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	statusIdx := make(map[string]int)
	for statusPager.More() {
		resp, err := statusPager.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, e := range resp.Entities {
			st, err := decodeStatusEntity(e)
			if err != nil {
				return nil, err
			}
			statusIdx[st.ID] = len(b.Statuses)
			b.Statuses = append(b.Statuses, st)
		}
	}

	taskPager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for taskPager.More() {
		resp, err := taskPager.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			si, ok := statusIdx[t.StatusID]
			if !ok {
				continue
			}
			b.Statuses[si].Tasks = append(b.Statuses[si].Tasks, t)
		}
	}

	board.Normalize(b)
	return b, nil
}

// EnqueueIntents sends the given persistence intents to the intent queue.
func (s *Storage) EnqueueIntents(ctx context.Context, boardID string, intents []domain.Intent) error {
	for _, in := range intents {
		env := domain.IntentEnvelope{BoardID: boardID, Intent: in}
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal intent %s: %w", in.IdempotencyKey, err)
		}
		if _, err := s.intentQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return classify(err)
		}
	}
	return nil
}
