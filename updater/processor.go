package main

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"roadmap-api/domain"
)

type commandApplier interface {
	Apply(ctx context.Context, env domain.CommandEnvelope) (string, error)
}

type updateNotice struct {
	UserID       string `json:"UserId"`
	EnrollmentID string `json:"EnrollmentId"`
}

// processCommand applies one command, refreshes the cache for the affected
// enrollment, and notifies stream subscribers. Publish failures are logged
// but do not fail the command; the cache and table are already consistent.
func processCommand(ctx context.Context, applier commandApplier, cache cacheRefresher, rc *redis.Client, channel string, env domain.CommandEnvelope) error {
	enrollmentID, err := applier.Apply(ctx, env)
	if err != nil {
		return err
	}
	if enrollmentID == "" {
		return nil
	}
	if cache != nil {
		cache.RefreshRoadmap(ctx, env.UserID, enrollmentID)
	}
	if rc == nil || channel == "" {
		return nil
	}
	payload, err := json.Marshal(updateNotice{UserID: env.UserID, EnrollmentID: enrollmentID})
	if err != nil {
		return nil
	}
	if err := rc.Publish(ctx, channel, payload).Err(); err != nil {
		log.WithError(err).Errorf("unable to publish roadmap update for user %s to %s", env.UserID, channel)
	}
	return nil
}
