package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"roadmap-api/domain"
	"roadmap-api/updater/storage"
)

func main() {
	log.Info("roadmap updater starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	commandQueue := os.Getenv("COMMAND_QUEUE")
	roadmapsTable := os.Getenv("ROADMAPS_TABLE")
	if connStr == "" || commandQueue == "" || roadmapsTable == "" {
		log.Fatal("missing storage config")
	}

	store, err := storage.New(connStr, commandQueue, roadmapsTable)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var rc *redis.Client
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc = newRedisClient(redisConn)
		defer rc.Close()
	} else {
		log.Warn("no redis configured, cache refresh and update notices disabled")
	}

	channel := os.Getenv("ROADMAP_UPDATES_CHANNEL")
	if channel == "" {
		channel = "roadmap-updates"
	}
	cacheTTL := 12 * time.Hour
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}

	applier := NewApplier(store)
	var cache cacheRefresher
	if rc != nil {
		cache = newCacheUpdater(store, rc, cacheTTL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run(ctx, store, applier, cache, rc, channel)
	log.Info("roadmap updater stopped")
}

func run(ctx context.Context, store *storage.Storage, applier commandApplier, cache cacheRefresher, rc *redis.Client, channel string) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := store.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("dequeue failed")
			sleep(ctx, time.Second)
			continue
		}
		if msg == nil {
			sleep(ctx, time.Second)
			continue
		}
		if msg.MessageText == nil || msg.MessageID == nil || msg.PopReceipt == nil {
			continue
		}

		var env domain.CommandEnvelope
		if err := json.Unmarshal([]byte(*msg.MessageText), &env); err != nil {
			log.WithError(err).Error("dropping unparseable command message")
		} else if err := processCommand(ctx, applier, cache, rc, channel, env); err != nil {
			log.WithError(err).Errorf("failed to process command %s/%s", env.Command.EntityType, env.Command.Type)
			// Leave the message on the queue; it reappears after the
			// visibility timeout.
			continue
		}
		if err := store.Delete(ctx, *msg.MessageID, *msg.PopReceipt); err != nil {
			log.WithError(err).Error("failed to delete processed message")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// newRedisClient accepts either a redis URL or the Azure-style
// "host:port,password=...,ssl=true" connection string.
func newRedisClient(conn string) *redis.Client {
	opts, err := redis.ParseURL(conn)
	if err != nil {
		parts := strings.Split(conn, ",")
		opts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				opts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					opts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	return redis.NewClient(opts)
}
