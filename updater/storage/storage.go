package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"roadmap-api/domain"
	apistorage "roadmap-api/storage"
)

// Entity carries the Azure table keys. Roadmaps are partitioned by user with
// the roadmap ID as row key.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// RoadmapEntity is the read model row for one roadmap. The milestone tree is
// stored as a single JSON blob.
type RoadmapEntity struct {
	Entity
	EnrollmentID string `json:"EnrollmentID"`
	Title        string `json:"Title"`
	Description  string `json:"Description"`
	Milestones   string `json:"Milestones"`
	CreatedAt    string `json:"CreatedAt"`
	UpdatedAt    string `json:"UpdatedAt"`
}

// Storage wraps the Azure clients used by the updater.
type Storage struct {
	queue        *azqueue.QueueClient
	roadmapTable *aztables.Client
}

// New creates a Storage from the given connection string.
func New(connStr, commandQueue, roadmapsTable string) (*Storage, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	queue, err := azqueue.NewQueueClientFromConnectionString(connStr, commandQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	return &Storage{queue: queue, roadmapTable: svc.NewClient(roadmapsTable)}, nil
}

// Dequeue retrieves a single message from the command queue.
func (s *Storage) Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := s.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

// Delete removes a processed message from the queue.
func (s *Storage) Delete(ctx context.Context, id, receipt string) error {
	_, err := s.queue.DeleteMessage(ctx, id, receipt, nil)
	return err
}

// GetRoadmap retrieves a roadmap entity, or nil when it does not exist.
func (s *Storage) GetRoadmap(ctx context.Context, userID, roadmapID string) (*RoadmapEntity, error) {
	ent, err := s.roadmapTable.GetEntity(ctx, userID, roadmapID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil, nil
		}
		return nil, err
	}
	var roadmap RoadmapEntity
	if err := json.Unmarshal(ent.Value, &roadmap); err != nil {
		return nil, err
	}
	return &roadmap, nil
}

// UpsertRoadmap creates or replaces a roadmap entity.
func (s *Storage) UpsertRoadmap(ctx context.Context, ent RoadmapEntity) error {
	payload, err := json.Marshal(ent)
	if err == nil {
		_, err = s.roadmapTable.UpsertEntity(ctx, payload, nil)
	}
	return err
}

// DeleteRoadmap removes a roadmap entity. Missing rows are not an error.
func (s *Storage) DeleteRoadmap(ctx context.Context, userID, roadmapID string) error {
	_, err := s.roadmapTable.DeleteEntity(ctx, userID, roadmapID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil
		}
	}
	return err
}

// roadmapFilter scopes the enrollment lookup to the user's partition. Both
// values come from command payloads and are quoted as OData literals.
func roadmapFilter(userID, enrollmentID string) string {
	return "PartitionKey eq " + apistorage.QuoteOData(userID) + " and EnrollmentID eq " + apistorage.QuoteOData(enrollmentID)
}

// FetchRoadmap finds the roadmap belonging to an enrollment and decodes it
// into the domain shape used by cache refreshes.
func (s *Storage) FetchRoadmap(ctx context.Context, userID, enrollmentID string) (domain.Roadmap, error) {
	filter := roadmapFilter(userID, enrollmentID)
	pager := s.roadmapTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.Roadmap{}, err
		}
		for _, raw := range resp.Entities {
			var ent RoadmapEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return domain.Roadmap{}, err
			}
			return ent.Decode()
		}
	}
	return domain.Roadmap{}, ErrRoadmapNotFound
}

// ErrRoadmapNotFound is returned when no roadmap exists for an enrollment.
var ErrRoadmapNotFound = errors.New("roadmap not found")

// Decode converts the table row into the domain roadmap.
func (e RoadmapEntity) Decode() (domain.Roadmap, error) {
	r := domain.Roadmap{
		ID:           e.RowKey,
		EnrollmentID: e.EnrollmentID,
		Title:        e.Title,
		Milestones:   []domain.Milestone{},
	}
	if e.Description != "" {
		desc := e.Description
		r.Description = &desc
	}
	if e.Milestones != "" {
		if err := json.Unmarshal([]byte(e.Milestones), &r.Milestones); err != nil {
			return domain.Roadmap{}, err
		}
	}
	if ts, err := time.Parse(time.RFC3339, e.CreatedAt); err == nil {
		r.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, e.UpdatedAt); err == nil {
		r.UpdatedAt = ts
	}
	return r, nil
}
