package main

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/api"
	"boardsync/feed"
	"boardsync/gateway"
	"boardsync/orchestrator"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	boardsTable := os.Getenv("BOARDS_TABLE")
	statusesTable := os.Getenv("STATUSES_TABLE")
	tasksTable := os.Getenv("TASKS_TABLE")
	intentQueue := os.Getenv("INTENT_QUEUE")
	if connStr == "" || boardsTable == "" || statusesTable == "" || tasksTable == "" || intentQueue == "" {
		log.Fatal("missing storage config")
	}
	store, err := gateway.New(connStr, boardsTable, statusesTable, tasksTable, intentQueue)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		redisOpts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				redisOpts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					redisOpts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	rc := redis.NewClient(redisOpts)

	cacheTTL := envDuration("CACHE_TTL", time.Minute)
	dedupeTTL := envDuration("DEDUPE_TTL", 24*time.Hour)

	logger := log.New()
	cached := gateway.NewCache(store, rc, cacheTTL)
	deduper := gateway.NewRedisDeduper(rc, dedupeTTL)
	subscriber := feed.NewSubscriber(rc, os.Getenv("FEED_CHANNEL_PREFIX"), logger)
	subscribe := func(ctx context.Context, boardID string) (orchestrator.FeedHandle, error) {
		return subscriber.Subscribe(ctx, boardID)
	}

	boards := orchestrator.NewManager(cached, subscribe, deduper, logger, orchestrator.Config{})
	defer boards.CloseAll()

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, boards, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %v", name, err)
	}
	return d
}
