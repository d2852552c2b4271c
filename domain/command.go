package domain

import "github.com/bytedance/sonic"

// Entity types commands operate on.
const (
	EntityRoadmap = "roadmap"
	EntityTask    = "task"
)

// Command types understood by the read-model updater.
const (
	RoadmapCreated    = "roadmap-created"
	RoadmapReplaced   = "roadmap-replaced"
	RoadmapDeleted    = "roadmap-deleted"
	TaskStatusChanged = "task-status-changed"
)

// Command represents a write request for the roadmap model.
type Command struct {
	// ID carries the idempotency key when enqueued to the command queue.
	ID             string                 `json:"id,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	EntityType     string                 `json:"entityType"`
	Type           string                 `json:"type"`
	Data           sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
}

// CommandEnvelope wraps a command with the user performing it.
type CommandEnvelope struct {
	UserID  string  `json:"userId"`
	Command Command `json:"command"`
}

// RoadmapCreatedData is the payload of roadmap-created and roadmap-replaced
// commands: the full normalized milestone tree for one enrollment.
type RoadmapCreatedData struct {
	RoadmapID    string      `json:"roadmapId"`
	EnrollmentID string      `json:"enrollmentId"`
	Title        string      `json:"title"`
	Description  *string     `json:"description"`
	Milestones   []Milestone `json:"milestones"`
}

// RoadmapDeletedData identifies the roadmap removed as a unit.
type RoadmapDeletedData struct {
	RoadmapID string `json:"roadmapId"`
}

// TaskStatusChangedData is the narrow patch applied when a single task moves
// through its lifecycle. The task is addressed by position inside the tree.
type TaskStatusChangedData struct {
	RoadmapID      string `json:"roadmapId"`
	MilestoneIndex int    `json:"milestoneIndex"`
	TaskIndex      int    `json:"taskIndex"`
	Status         Status `json:"status"`
}
