package api

import "roadmap-api/domain"

const postCommandMaxSize = 64 * 1024 // 64 KiB
const importMaxSize = 4 * 1024 * 1024

// POST /api/commands response body
type postCommandResponse struct {
	IdempotencyKeys []string `json:"idempotencyKeys,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// POST /api/roadmaps request body
type createRoadmapRequest struct {
	EnrollmentID string             `json:"enrollmentId"`
	Title        string             `json:"title"`
	Description  *string            `json:"description"`
	Milestones   []domain.Milestone `json:"milestones"`
}

// POST /api/roadmaps response body
type createRoadmapResponse struct {
	RoadmapID       string   `json:"roadmapId"`
	IdempotencyKeys []string `json:"idempotencyKeys,omitempty"`
}

// GET /api/roadmaps response body
type roadmapResponse struct {
	Roadmap  domain.Roadmap `json:"roadmap"`
	Progress domain.Summary `json:"progress"`
}

// POST /api/roadmaps/import response body
type importResponse struct {
	Milestones []domain.Milestone `json:"milestones"`
	Count      importCounts       `json:"count"`
}

type importCounts struct {
	Milestones int `json:"milestones"`
	Tasks      int `json:"tasks"`
}

const importParseErrorMessage = "Error parsing CSV data. Please check the format."
