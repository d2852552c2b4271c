package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"roadmap-api/domain"
)

type backend interface {
	FetchRoadmap(ctx context.Context, userID, enrollmentID string) (domain.Roadmap, error)
	FetchEnrollments(ctx context.Context, userID string) ([]domain.Enrollment, error)
	EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error
}

// Cache wraps a Storage instance with Redis-backed caching for read
// operations. Cached roadmap keys are tracked in a per-user index set so a
// write can evict every roadmap the user has cached, whichever enrollment it
// belongs to.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) FetchRoadmap(ctx context.Context, userID, enrollmentID string) (domain.Roadmap, error) {
	if r, ok := c.loadRoadmapFromCache(ctx, userID, enrollmentID); ok {
		return r, nil
	}

	r, err := c.base.FetchRoadmap(ctx, userID, enrollmentID)
	if err != nil {
		return domain.Roadmap{}, err
	}

	c.storeRoadmap(ctx, userID, enrollmentID, r)
	return r, nil
}

func (c *Cache) FetchEnrollments(ctx context.Context, userID string) ([]domain.Enrollment, error) {
	if enrollments, ok := c.loadEnrollmentsFromCache(ctx, userID); ok {
		return enrollments, nil
	}

	enrollments, err := c.base.FetchEnrollments(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.storeEnrollments(ctx, userID, enrollments)
	return enrollments, nil
}

func (c *Cache) EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	if err := c.base.EnqueueCommands(ctx, userID, cmds); err != nil {
		return err
	}

	c.Evict(ctx, userID)
	return nil
}

func (c *Cache) loadRoadmapFromCache(ctx context.Context, userID, enrollmentID string) (domain.Roadmap, bool) {
	if c.redis == nil {
		return domain.Roadmap{}, false
	}
	key := RoadmapCacheKey(userID, enrollmentID)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return domain.Roadmap{}, false
	}
	var r domain.Roadmap
	if err := json.Unmarshal(data, &r); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return domain.Roadmap{}, false
	}
	return r, true
}

func (c *Cache) loadEnrollmentsFromCache(ctx context.Context, userID string) ([]domain.Enrollment, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, EnrollmentsCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, EnrollmentsCacheKey(userID)).Err()
		}
		return nil, false
	}
	var enrollments []domain.Enrollment
	if err := json.Unmarshal(data, &enrollments); err != nil {
		_ = c.redis.Del(ctx, EnrollmentsCacheKey(userID)).Err()
		return nil, false
	}
	return enrollments, true
}

func (c *Cache) storeRoadmap(ctx context.Context, userID, enrollmentID string, r domain.Roadmap) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	key := RoadmapCacheKey(userID, enrollmentID)
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
	_ = c.redis.SAdd(ctx, RoadmapIndexKey(userID), key).Err()
	_ = c.redis.Expire(ctx, RoadmapIndexKey(userID), c.ttl).Err()
}

func (c *Cache) storeEnrollments(ctx context.Context, userID string, enrollments []domain.Enrollment) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(enrollments)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, EnrollmentsCacheKey(userID), data, c.ttl).Err()
}

// Evict drops every cached read for the user. Safe to call with a nil client.
func (c *Cache) Evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	keys, err := c.redis.SMembers(ctx, RoadmapIndexKey(userID)).Result()
	if err == nil && len(keys) > 0 {
		_, _ = c.redis.Del(ctx, keys...).Result()
	}
	_, _ = c.redis.Del(ctx, RoadmapIndexKey(userID), EnrollmentsCacheKey(userID)).Result()
}

// RoadmapCacheKey is the redis key for one user's roadmap per enrollment.
// The updater writes through the same keys when it refreshes the read model.
func RoadmapCacheKey(userID, enrollmentID string) string {
	return "roadmap:" + userID + ":" + enrollmentID
}

// RoadmapIndexKey is the per-user set tracking cached roadmap keys.
func RoadmapIndexKey(userID string) string {
	return "roadmap-keys:" + userID
}

// EnrollmentsCacheKey is the redis key for a user's cached enrollment list.
func EnrollmentsCacheKey(userID string) string {
	return "enrollments:" + userID
}
