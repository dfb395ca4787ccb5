package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"boardsync/domain"
)

type fakeBackend struct {
	fetches  int
	enqueues int
	board    *domain.Board
	err      error
}

func (f *fakeBackend) FetchBoard(_ context.Context, _ string) (*domain.Board, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return f.board, nil
}

func (f *fakeBackend) EnqueueIntents(_ context.Context, _ string, _ []domain.Intent) error {
	f.enqueues++
	return f.err
}

func cacheClient(t *testing.T) *redis.Client {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestCacheReadThrough(t *testing.T) {
	base := &fakeBackend{board: &domain.Board{ID: "b1", Title: "Sprint"}}
	c := NewCache(base, cacheClient(t), time.Minute)
	ctx := context.Background()

	first, err := c.FetchBoard(ctx, "b1")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := c.FetchBoard(ctx, "b1")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if base.fetches != 1 {
		t.Fatalf("backend fetches = %d, want 1", base.fetches)
	}
	if first.Title != second.Title || second.ID != "b1" {
		t.Fatalf("cache returned different board: %+v vs %+v", first, second)
	}
}

func TestCacheEvictsOnEnqueue(t *testing.T) {
	base := &fakeBackend{board: &domain.Board{ID: "b1"}}
	c := NewCache(base, cacheClient(t), time.Minute)
	ctx := context.Background()

	if _, err := c.FetchBoard(ctx, "b1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if err := c.EnqueueIntents(ctx, "b1", []domain.Intent{{Kind: domain.IntentMove, TaskID: "t1"}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := c.FetchBoard(ctx, "b1"); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if base.fetches != 2 {
		t.Fatalf("backend fetches = %d, want 2 (cache evicted)", base.fetches)
	}
}

func TestCacheBackendErrorPassthrough(t *testing.T) {
	wantErr := errors.New("storage down")
	base := &fakeBackend{err: wantErr}
	c := NewCache(base, cacheClient(t), time.Minute)

	if _, err := c.FetchBoard(context.Background(), "b1"); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestCacheNilRedisFallsThrough(t *testing.T) {
	base := &fakeBackend{board: &domain.Board{ID: "b1"}}
	c := NewCache(base, nil, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.FetchBoard(ctx, "b1"); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if base.fetches != 2 {
		t.Fatalf("backend fetches = %d, want 2 without redis", base.fetches)
	}
}
