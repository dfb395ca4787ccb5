package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardsync/conflict"
	"boardsync/domain"
	"boardsync/orchestrator"
)

const mutationsMaxSize = 1 << 20

// Boards hands out the live synchronization session for a board.
type Boards interface {
	Session(ctx context.Context, boardID string) (*orchestrator.Session, error)
	Close(boardID string)
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, boards Boards, logger *log.Logger) {
	e.GET("/api/boards/:id", getBoard(boards, logger))
	e.GET("/api/boards/:id/stream", streamBoard(boards))
	e.POST("/api/boards/:id/mutations", postMutations(boards))
	e.GET("/api/boards/:id/conflicts", getConflicts(boards))
	e.POST("/api/boards/:id/conflicts/:conflictId", postConflictResolution(boards))
	e.POST("/api/boards/:id/resync", postResync(boards))
	e.DELETE("/api/boards/:id/session", deleteSession(boards))
	e.GET("/healthz", healthz())
}

type boardResponse struct {
	Board            *domain.Board `json:"board"`
	PendingConflicts int           `json:"pendingConflicts"`
}

type mutationsResponse struct {
	IdempotencyKeys []string `json:"idempotencyKeys"`
}

type conflictsResponse struct {
	Pending   int                              `json:"pending"`
	Conflicts []conflict.Conflict[domain.Task] `json:"conflicts"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getBoard(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newBoardRequestMetrics(logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		boardID := c.Param("id")
		sessionStart := time.Now()
		s, sessionErr := boards.Session(c.Request().Context(), boardID)
		metrics.ObserveSession(time.Since(sessionStart))
		if sessionErr != nil {
			metrics.SetErrorStage("session")
			c.Logger().Error(sessionErr)
			err = c.String(http.StatusBadGateway, sessionErr.Error())
			return err
		}

		resp := boardResponse{
			Board:            s.Snapshot(),
			PendingConflicts: s.PendingConflicts(),
		}
		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func streamBoard(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := boards.Session(c.Request().Context(), c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusBadGateway, err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set("Cache-Control", "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		updates, stop := s.Watch()
		defer stop()
		for {
			data, err := sonic.Marshal(boardResponse{
				Board:            s.Snapshot(),
				PendingConflicts: s.PendingConflicts(),
			})
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				return err
			}
			if _, err := c.Response().Write(data); err != nil {
				return err
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return err
			}
			flusher.Flush()
			select {
			case <-ctx.Done():
				return nil
			case <-updates:
				continue
			}
		}
	}
}

func postMutations(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := boards.Session(c.Request().Context(), c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusBadGateway, err.Error())
		}

		lr := io.LimitReader(c.Request().Body, mutationsMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		muts := make([]domain.Mutation, 0, 4)
		if err := dec.Decode(&muts); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if len(muts) == 0 {
			return c.String(http.StatusBadRequest, "empty mutation batch")
		}
		for _, m := range muts {
			if m.Kind == "" {
				return c.String(http.StatusBadRequest, "mutation kind is required")
			}
		}

		keys, err := s.Mutate(muts)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to apply mutations")
		}
		return c.JSON(http.StatusAccepted, mutationsResponse{IdempotencyKeys: keys})
	}
}

func getConflicts(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := boards.Session(c.Request().Context(), c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusBadGateway, err.Error())
		}
		return c.JSON(http.StatusOK, conflictsResponse{
			Pending:   s.PendingConflicts(),
			Conflicts: s.TaskConflicts(),
		})
	}
}

func postConflictResolution(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := boards.Session(c.Request().Context(), c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusBadGateway, err.Error())
		}

		lr := io.LimitReader(c.Request().Body, mutationsMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var resolution domain.Task
		if err := dec.Decode(&resolution); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := s.ResolveTaskConflict(c.Param("conflictId"), resolution); err != nil {
			return c.String(http.StatusNotFound, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postResync(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := boards.Session(c.Request().Context(), c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusBadGateway, err.Error())
		}
		s.Resync()
		return c.NoContent(http.StatusAccepted)
	}
}

func deleteSession(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		boards.Close(c.Param("id"))
		return c.NoContent(http.StatusNoContent)
	}
}
