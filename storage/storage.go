package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"roadmap-api/domain"
)

// ErrRoadmapNotFound is returned when no roadmap exists for an enrollment.
// It carries a marker method so callers can detect it without importing this
// package's concrete type.
var ErrRoadmapNotFound error = roadmapNotFoundError{}

type roadmapNotFoundError struct{}

func (roadmapNotFoundError) Error() string    { return "roadmap not found" }
func (roadmapNotFoundError) RoadmapNotFound() {}

// Storage provides access to underlying persistence mechanisms.
type Storage struct {
	roadmapTable    *aztables.Client
	enrollmentTable *aztables.Client
	commandQueue    *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, roadmapsTable, enrollmentsTable, commandQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	rt := svc.NewClient(roadmapsTable)
	et := svc.NewClient(enrollmentsTable)
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
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, commandQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{roadmapTable: rt, enrollmentTable: et, commandQueue: cq}, nil
}

type roadmapEntity struct {
	aztables.Entity
	EnrollmentID string `json:"EnrollmentID"`
	Title        string `json:"Title"`
	Description  string `json:"Description"`
	Milestones   string `json:"Milestones"`
	CreatedAt    string `json:"CreatedAt"`
	UpdatedAt    string `json:"UpdatedAt"`
}

type enrollmentEntity struct {
	aztables.Entity
	ServiceName string `json:"ServiceName"`
	Plan        string `json:"Plan"`
	Status      string `json:"Status"`
	ExpiresAt   string `json:"ExpiresAt"`
}

func decodeRoadmapEntity(data []byte) (domain.Roadmap, error) {
	var ent roadmapEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Roadmap{}, err
	}
	r := domain.Roadmap{
		ID:           ent.RowKey,
		EnrollmentID: ent.EnrollmentID,
		Title:        ent.Title,
		Milestones:   []domain.Milestone{},
	}
	if ent.Description != "" {
		desc := ent.Description
		r.Description = &desc
	}
	if ent.Milestones != "" {
		if err := json.Unmarshal([]byte(ent.Milestones), &r.Milestones); err != nil {
			return domain.Roadmap{}, err
		}
	}
	if ts, err := time.Parse(time.RFC3339, ent.CreatedAt); err == nil {
		r.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, ent.UpdatedAt); err == nil {
		r.UpdatedAt = ts
	}
	return r, nil
}

// QuoteOData renders v as an OData string literal. Single quotes are doubled
// so a caller-supplied ID cannot terminate the literal and widen a filter
// past its partition.
func QuoteOData(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func roadmapFilter(userID, enrollmentID string) string {
	return "PartitionKey eq " + QuoteOData(userID) + " and EnrollmentID eq " + QuoteOData(enrollmentID)
}

func enrollmentFilter(userID string) string {
	return "PartitionKey eq " + QuoteOData(userID)
}

// FetchRoadmap retrieves the roadmap tied to the given enrollment.
func (s *Storage) FetchRoadmap(ctx context.Context, userID, enrollmentID string) (domain.Roadmap, error) {
	filter := roadmapFilter(userID, enrollmentID)
	pager := s.roadmapTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.Roadmap{}, err
		}
		for _, e := range resp.Entities {
			return decodeRoadmapEntity(e)
		}
	}
	return domain.Roadmap{}, ErrRoadmapNotFound
}

// FetchEnrollments retrieves all enrollments for the provided user.
func (s *Storage) FetchEnrollments(ctx context.Context, userID string) ([]domain.Enrollment, error) {
	filter := enrollmentFilter(userID)
	pager := s.enrollmentTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	enrollments := []domain.Enrollment{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent enrollmentEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			enrollments = append(enrollments, domain.Enrollment{
				ID:          ent.RowKey,
				ServiceName: ent.ServiceName,
				Plan:        ent.Plan,
				Status:      ent.Status,
				ExpiresAt:   ent.ExpiresAt,
			})
		}
	}
	return enrollments, nil
}

// EnqueueCommands sends the given commands to the command queue.
func (s *Storage) EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	for _, cmd := range cmds {
		env := domain.CommandEnvelope{UserID: userID, Command: cmd}
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if _, err := s.commandQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}
