package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"roadmap-api/domain"
	apistorage "roadmap-api/storage"
	"roadmap-api/updater/storage"
)

type cacheStore interface {
	FetchRoadmap(ctx context.Context, userID, enrollmentID string) (domain.Roadmap, error)
}

type cacheRefresher interface {
	RefreshRoadmap(ctx context.Context, userID, enrollmentID string)
}

// cacheUpdater rewrites the redis roadmap cache after the read model changed,
// using the same keys and payload shape the API's read-through cache expects.
type cacheUpdater struct {
	store cacheStore
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

func newCacheUpdater(store cacheStore, client *redis.Client, ttl time.Duration) *cacheUpdater {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &cacheUpdater{store: store, redis: client, ttl: ttl, now: time.Now}
}

func (c *cacheUpdater) RefreshRoadmap(ctx context.Context, userID, enrollmentID string) {
	if c == nil || c.redis == nil || c.store == nil {
		return
	}
	key := apistorage.RoadmapCacheKey(userID, enrollmentID)
	roadmap, err := c.store.FetchRoadmap(ctx, userID, enrollmentID)
	if err != nil {
		if errors.Is(err, storage.ErrRoadmapNotFound) {
			if err := c.redis.Del(ctx, key).Err(); err != nil {
				log.WithError(err).WithField("user", userID).Error("failed to delete roadmap cache entry")
			}
			return
		}
		log.WithError(err).WithField("user", userID).Error("failed to load roadmap for cache")
		return
	}
	data, err := json.Marshal(roadmap)
	if err != nil {
		log.WithError(err).WithField("user", userID).Error("failed to marshal roadmap cache payload")
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.WithError(err).WithField("user", userID).Error("failed to store roadmap cache entry")
		return
	}
	_ = c.redis.SAdd(ctx, apistorage.RoadmapIndexKey(userID), key).Err()
	_ = c.redis.Expire(ctx, apistorage.RoadmapIndexKey(userID), c.ttl).Err()
}
