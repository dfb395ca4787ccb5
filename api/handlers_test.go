package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/orchestrator"
)

type stubGateway struct {
	mu       sync.Mutex
	board    *domain.Board
	enqueued []domain.Intent
}

func (g *stubGateway) FetchBoard(ctx context.Context, boardID string) (*domain.Board, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.board.Clone(), nil
}

func (g *stubGateway) EnqueueIntents(ctx context.Context, boardID string, intents []domain.Intent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enqueued = append(g.enqueued, intents...)
	return nil
}

type stubFeed struct {
	events chan domain.FeedEvent
	once   sync.Once
}

func (f *stubFeed) Events() <-chan domain.FeedEvent { return f.events }

func (f *stubFeed) Unsubscribe() {
	f.once.Do(func() { close(f.events) })
}

func testLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func testBoard() *domain.Board {
	return &domain.Board{
		ID:    "b1",
		Title: "Sprint 12",
		Statuses: []domain.Status{
			{ID: "s1", BoardID: "b1", Title: "Todo", Order: 0, Tasks: []domain.Task{
				{ID: "t1", StatusID: "s1", Title: "alpha", Order: 0, Version: 1},
				{ID: "t2", StatusID: "s1", Title: "beta", Order: 1, Version: 1},
			}},
			{ID: "s2", BoardID: "b1", Title: "Done", Order: 1, Tasks: []domain.Task{}},
		},
	}
}

func testServer(t *testing.T) (*echo.Echo, *orchestrator.Manager, *stubGateway) {
	t.Helper()
	gw := &stubGateway{board: testBoard()}
	subscribe := func(ctx context.Context, boardID string) (orchestrator.FeedHandle, error) {
		return &stubFeed{events: make(chan domain.FeedEvent, 16)}, nil
	}
	m := orchestrator.NewManager(gw, subscribe, nil, testLogger(), orchestrator.Config{})
	t.Cleanup(m.CloseAll)

	e := echo.New()
	Register(e, m, testLogger())
	return e, m, gw
}

func TestGetBoard(t *testing.T) {
	e, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/boards/b1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp boardResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Board == nil || resp.Board.ID != "b1" {
		t.Fatalf("unexpected board: %+v", resp.Board)
	}
	if len(resp.Board.Statuses) != 2 || len(resp.Board.Statuses[0].Tasks) != 2 {
		t.Fatalf("unexpected board shape: %+v", resp.Board)
	}
	if resp.PendingConflicts != 0 {
		t.Fatalf("expected no pending conflicts, got %d", resp.PendingConflicts)
	}
}

func TestPostMutations(t *testing.T) {
	e, m, _ := testServer(t)

	body := `[{"kind":"move-task","id":"t1","targetStatusId":"s2","targetIndex":0}]`
	req := httptest.NewRequest(http.MethodPost, "/api/boards/b1/mutations", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp mutationsResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.IdempotencyKeys) != 1 || resp.IdempotencyKeys[0] == "" {
		t.Fatalf("unexpected keys: %v", resp.IdempotencyKeys)
	}

	s, ok := m.Peek("b1")
	if !ok {
		t.Fatal("no session opened")
	}
	b := s.Snapshot()
	if len(b.Statuses[1].Tasks) != 1 || b.Statuses[1].Tasks[0].ID != "t1" {
		t.Fatalf("mutation not applied: %+v", b.Statuses[1].Tasks)
	}
}

func TestPostMutationsRejectsBadInput(t *testing.T) {
	e, _, _ := testServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"kind":`},
		{"unknown field", `[{"kind":"delete-task","id":"t1","bogus":true}]`},
		{"empty batch", `[]`},
		{"missing kind", `[{"id":"t1"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/boards/b1/mutations", strings.NewReader(tc.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGetConflictsEmpty(t *testing.T) {
	e, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/boards/b1/conflicts", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp conflictsResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Pending != 0 || len(resp.Conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %+v", resp)
	}
}

func TestPostConflictResolutionUnknownID(t *testing.T) {
	e, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/boards/b1/conflicts/nope", strings.NewReader(`{"id":"t1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestStreamBoardSendsSnapshot(t *testing.T) {
	e, _, _ := testServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/boards/b1/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") || !strings.Contains(body, `"b1"`) {
		t.Fatalf("unexpected stream body: %q", body)
	}
}

func TestDeleteSession(t *testing.T) {
	e, m, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/boards/b1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if _, ok := m.Peek("b1"); !ok {
		t.Fatal("expected session after get")
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/boards/b1/session", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := m.Peek("b1"); ok {
		t.Fatal("session survived delete")
	}
}

func TestHealthz(t *testing.T) {
	e, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
