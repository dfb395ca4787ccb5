package orchestrator

import (
	"time"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// loadMetrics collects timings and counts for one board load or resync and
// emits them as a single structured log line.
type loadMetrics struct {
	logger        *log.Logger
	event         string
	boardID       string
	start         time.Time
	fetchDuration time.Duration
	statusCount   int
	taskCount     int
}

func newLoadMetrics(logger *log.Logger, boardID string) *loadMetrics {
	return &loadMetrics{
		logger:  logger,
		event:   "board.load.metrics",
		boardID: boardID,
		start:   time.Now(),
	}
}

func newResyncMetrics(logger *log.Logger, boardID string) *loadMetrics {
	m := newLoadMetrics(logger, boardID)
	m.event = "board.resync.metrics"
	return m
}

func (m *loadMetrics) ObserveFetch(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.fetchDuration = duration
}

func (m *loadMetrics) SetCounts(b *domain.Board) {
	if b == nil {
		return
	}
	m.statusCount = len(b.Statuses)
	for _, s := range b.Statuses {
		m.taskCount += len(s.Tasks)
	}
}

func (m *loadMetrics) Log(err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"board":    m.boardID,
		"total_ms": durationToMillis(time.Since(m.start)),
		"statuses": m.statusCount,
		"tasks":    m.taskCount,
	}
	if m.fetchDuration > 0 {
		fields["fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if err != nil {
		fields["error"] = err.Error()
		m.logger.WithFields(fields).Error(m.event)
		return
	}
	m.logger.WithFields(fields).Info(m.event)
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
