// Package feed delivers change-feed notifications for a board over Redis
// pub/sub. One subscription per board; payloads the engine cannot parse are
// dropped at this boundary so malformed feed data never reaches the merge
// path.
package feed

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// DefaultChannelPrefix is prepended to the board id to form the pub/sub
// channel name.
const DefaultChannelPrefix = "board-changes:"

// Subscriber creates board-scoped change-feed subscriptions.
type Subscriber struct {
	rc     *redis.Client
	prefix string
	logger *log.Logger
}

// NewSubscriber creates a subscriber using the provided Redis client. An
// empty prefix falls back to DefaultChannelPrefix.
func NewSubscriber(rc *redis.Client, prefix string, logger *log.Logger) *Subscriber {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Subscriber{rc: rc, prefix: prefix, logger: logger}
}

// Subscription is a live change feed for one board. Events are delivered in
// arrival order on the Events channel until Unsubscribe is called or the
// context is cancelled, after which the channel is closed.
type Subscription struct {
	boardID string
	pubsub  *redis.PubSub
	events  chan domain.FeedEvent
	once    sync.Once
}

// Subscribe opens the change feed for the given board. It does not return
// until the server has confirmed the subscription, so no notification
// published after Subscribe returns can be missed.
func (s *Subscriber) Subscribe(ctx context.Context, boardID string) (*Subscription, error) {
	ps := s.rc.Subscribe(ctx, s.prefix+boardID)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &Subscription{
		boardID: boardID,
		pubsub:  ps,
		events:  make(chan domain.FeedEvent, 64),
	}
	go sub.pump(ctx, s.logger)
	return sub, nil
}

// Events returns the ordered notification channel.
func (sub *Subscription) Events() <-chan domain.FeedEvent {
	return sub.events
}

// Unsubscribe tears the feed down. Safe to call more than once.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		_ = sub.pubsub.Close()
	})
}

func (sub *Subscription) pump(ctx context.Context, logger *log.Logger) {
	defer close(sub.events)
	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, ok := domain.ParseFeedEvent([]byte(msg.Payload))
			if !ok {
				logger.WithField("board", sub.boardID).Warn("dropping malformed feed payload")
				continue
			}
			select {
			case sub.events <- ev:
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			}
		}
	}
}
