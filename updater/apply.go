package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"roadmap-api/domain"
	"roadmap-api/updater/storage"
)

// Store is the slice of storage the applier writes through.
type Store interface {
	GetRoadmap(ctx context.Context, userID, roadmapID string) (*storage.RoadmapEntity, error)
	UpsertRoadmap(ctx context.Context, ent storage.RoadmapEntity) error
	DeleteRoadmap(ctx context.Context, userID, roadmapID string) error
}

// Applier folds commands into the roadmap read model.
type Applier struct {
	store Store
	now   func() time.Time
}

func NewApplier(store Store) *Applier {
	return &Applier{store: store, now: time.Now}
}

// Apply executes one command and returns the enrollment whose roadmap was
// touched, so callers can refresh caches and notify streams. An empty
// enrollment ID means nothing changed.
func (a *Applier) Apply(ctx context.Context, env domain.CommandEnvelope) (string, error) {
	cmd := env.Command
	switch {
	case cmd.EntityType == domain.EntityRoadmap && (cmd.Type == domain.RoadmapCreated || cmd.Type == domain.RoadmapReplaced):
		return a.applyRoadmapUpsert(ctx, env)
	case cmd.EntityType == domain.EntityRoadmap && cmd.Type == domain.RoadmapDeleted:
		return a.applyRoadmapDelete(ctx, env)
	case cmd.EntityType == domain.EntityTask && cmd.Type == domain.TaskStatusChanged:
		return a.applyTaskStatusChange(ctx, env)
	default:
		log.Warnf("ignoring unknown command type %s/%s", cmd.EntityType, cmd.Type)
		return "", nil
	}
}

func (a *Applier) applyRoadmapUpsert(ctx context.Context, env domain.CommandEnvelope) (string, error) {
	var data domain.RoadmapCreatedData
	if err := json.Unmarshal(env.Command.Data, &data); err != nil {
		return "", fmt.Errorf("decode %s data: %w", env.Command.Type, err)
	}
	if data.RoadmapID == "" || data.EnrollmentID == "" {
		return "", fmt.Errorf("%s command missing roadmap or enrollment id", env.Command.Type)
	}

	milestones := data.Milestones
	if milestones == nil {
		milestones = []domain.Milestone{}
	}
	blob, err := json.Marshal(milestones)
	if err != nil {
		return "", err
	}

	now := a.now().UTC().Format(time.RFC3339)
	createdAt := now
	if env.Command.Type == domain.RoadmapReplaced {
		existing, err := a.store.GetRoadmap(ctx, env.UserID, data.RoadmapID)
		if err != nil {
			return "", err
		}
		if existing != nil && existing.CreatedAt != "" {
			createdAt = existing.CreatedAt
		}
	}

	ent := storage.RoadmapEntity{
		Entity:       storage.Entity{PartitionKey: env.UserID, RowKey: data.RoadmapID},
		EnrollmentID: data.EnrollmentID,
		Title:        data.Title,
		Milestones:   string(blob),
		CreatedAt:    createdAt,
		UpdatedAt:    now,
	}
	if data.Description != nil {
		ent.Description = *data.Description
	}
	if err := a.store.UpsertRoadmap(ctx, ent); err != nil {
		return "", err
	}
	return data.EnrollmentID, nil
}

func (a *Applier) applyRoadmapDelete(ctx context.Context, env domain.CommandEnvelope) (string, error) {
	var data domain.RoadmapDeletedData
	if err := json.Unmarshal(env.Command.Data, &data); err != nil {
		return "", fmt.Errorf("decode roadmap-deleted data: %w", err)
	}
	if data.RoadmapID == "" {
		return "", fmt.Errorf("roadmap-deleted command missing roadmap id")
	}

	existing, err := a.store.GetRoadmap(ctx, env.UserID, data.RoadmapID)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return "", nil
	}
	if err := a.store.DeleteRoadmap(ctx, env.UserID, data.RoadmapID); err != nil {
		return "", err
	}
	return existing.EnrollmentID, nil
}

func (a *Applier) applyTaskStatusChange(ctx context.Context, env domain.CommandEnvelope) (string, error) {
	var data domain.TaskStatusChangedData
	if err := json.Unmarshal(env.Command.Data, &data); err != nil {
		return "", fmt.Errorf("decode task-status-changed data: %w", err)
	}
	if !domain.ValidStatus(data.Status) {
		return "", fmt.Errorf("invalid task status %q", data.Status)
	}

	ent, err := a.store.GetRoadmap(ctx, env.UserID, data.RoadmapID)
	if err != nil {
		return "", err
	}
	if ent == nil {
		log.Warnf("task-status-changed for missing roadmap %s, user %s", data.RoadmapID, env.UserID)
		return "", nil
	}

	var milestones []domain.Milestone
	if ent.Milestones != "" {
		if err := json.Unmarshal([]byte(ent.Milestones), &milestones); err != nil {
			return "", fmt.Errorf("decode milestone blob: %w", err)
		}
	}
	if data.MilestoneIndex < 0 || data.MilestoneIndex >= len(milestones) {
		return "", fmt.Errorf("milestone index %d out of range", data.MilestoneIndex)
	}
	tasks := milestones[data.MilestoneIndex].Tasks
	if data.TaskIndex < 0 || data.TaskIndex >= len(tasks) {
		return "", fmt.Errorf("task index %d out of range", data.TaskIndex)
	}

	tasks[data.TaskIndex].Status = data.Status
	milestones[data.MilestoneIndex].Status = domain.DeriveMilestoneStatus(tasks)

	blob, err := json.Marshal(milestones)
	if err != nil {
		return "", err
	}
	ent.Milestones = string(blob)
	ent.UpdatedAt = a.now().UTC().Format(time.RFC3339)
	if err := a.store.UpsertRoadmap(ctx, *ent); err != nil {
		return "", err
	}
	return ent.EnrollmentID, nil
}
