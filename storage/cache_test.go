package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"roadmap-api/domain"
)

type stubBackend struct {
	fetchRoadmapFn     func(ctx context.Context, userID, enrollmentID string) (domain.Roadmap, error)
	fetchEnrollmentsFn func(ctx context.Context, userID string) ([]domain.Enrollment, error)
	enqueueCommandsFn  func(ctx context.Context, userID string, cmds []domain.Command) error
}

func (s *stubBackend) FetchRoadmap(ctx context.Context, userID, enrollmentID string) (domain.Roadmap, error) {
	if s.fetchRoadmapFn == nil {
		return domain.Roadmap{}, errors.New("unexpected FetchRoadmap call")
	}
	return s.fetchRoadmapFn(ctx, userID, enrollmentID)
}

func (s *stubBackend) FetchEnrollments(ctx context.Context, userID string) ([]domain.Enrollment, error) {
	if s.fetchEnrollmentsFn == nil {
		return nil, errors.New("unexpected FetchEnrollments call")
	}
	return s.fetchEnrollmentsFn(ctx, userID)
}

func (s *stubBackend) EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	if s.enqueueCommandsFn == nil {
		return errors.New("unexpected EnqueueCommands call")
	}
	return s.enqueueCommandsFn(ctx, userID, cmds)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheFetchRoadmapMissThenHit(t *testing.T) {
	_, client := newTestRedis(t)

	ctx := context.Background()
	expected := domain.Roadmap{ID: "r1", EnrollmentID: "e1", Title: "Career roadmap"}

	var calls int
	cache := NewCache(&stubBackend{
		fetchRoadmapFn: func(ctx context.Context, userID, enrollmentID string) (domain.Roadmap, error) {
			calls++
			return expected, nil
		},
	}, client, time.Minute)

	for i := 0; i < 2; i++ {
		got, err := cache.FetchRoadmap(ctx, "user-1", "e1")
		if err != nil {
			t.Fatalf("fetch roadmap: %v", err)
		}
		if got.ID != expected.ID || got.Title != expected.Title {
			t.Fatalf("unexpected roadmap: %#v", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single backend call, got %d", calls)
	}
}

func TestCacheFetchRoadmapCorruptEntryFallsBack(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Set(RoadmapCacheKey("user-1", "e1"), "{not json")

	expected := domain.Roadmap{ID: "r1"}
	cache := NewCache(&stubBackend{
		fetchRoadmapFn: func(ctx context.Context, userID, enrollmentID string) (domain.Roadmap, error) {
			return expected, nil
		},
	}, client, time.Minute)

	got, err := cache.FetchRoadmap(context.Background(), "user-1", "e1")
	if err != nil {
		t.Fatalf("fetch roadmap: %v", err)
	}
	if got.ID != "r1" {
		t.Fatalf("unexpected roadmap: %#v", got)
	}
}

func TestCacheFetchEnrollmentsMissThenHit(t *testing.T) {
	_, client := newTestRedis(t)

	expected := []domain.Enrollment{{ID: "e1", ServiceName: "Career Mentorship", Status: "ACTIVE"}}
	var calls int
	cache := NewCache(&stubBackend{
		fetchEnrollmentsFn: func(ctx context.Context, userID string) ([]domain.Enrollment, error) {
			calls++
			return expected, nil
		},
	}, client, time.Minute)

	for i := 0; i < 2; i++ {
		got, err := cache.FetchEnrollments(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("fetch enrollments: %v", err)
		}
		if !reflect.DeepEqual(got, expected) {
			t.Fatalf("unexpected enrollments: %#v", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single backend call, got %d", calls)
	}
}

func TestCacheEnqueueEvictsUserKeys(t *testing.T) {
	mr, client := newTestRedis(t)

	roadmap := domain.Roadmap{ID: "r1", EnrollmentID: "e1"}
	cache := NewCache(&stubBackend{
		fetchRoadmapFn: func(ctx context.Context, userID, enrollmentID string) (domain.Roadmap, error) {
			return roadmap, nil
		},
		fetchEnrollmentsFn: func(ctx context.Context, userID string) ([]domain.Enrollment, error) {
			return []domain.Enrollment{{ID: "e1"}}, nil
		},
		enqueueCommandsFn: func(ctx context.Context, userID string, cmds []domain.Command) error {
			return nil
		},
	}, client, time.Minute)

	ctx := context.Background()
	if _, err := cache.FetchRoadmap(ctx, "user-1", "e1"); err != nil {
		t.Fatalf("prime roadmap cache: %v", err)
	}
	if _, err := cache.FetchEnrollments(ctx, "user-1"); err != nil {
		t.Fatalf("prime enrollments cache: %v", err)
	}
	if !mr.Exists(RoadmapCacheKey("user-1", "e1")) {
		t.Fatal("roadmap cache entry missing after fetch")
	}

	if err := cache.EnqueueCommands(ctx, "user-1", []domain.Command{{Type: domain.TaskStatusChanged}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if mr.Exists(RoadmapCacheKey("user-1", "e1")) {
		t.Fatal("roadmap cache entry not evicted")
	}
	if mr.Exists(EnrollmentsCacheKey("user-1")) {
		t.Fatal("enrollments cache entry not evicted")
	}
}

func TestCacheEnqueueFailureSkipsEviction(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Set(EnrollmentsCacheKey("user-1"), "[]")

	boom := errors.New("queue down")
	cache := NewCache(&stubBackend{
		enqueueCommandsFn: func(ctx context.Context, userID string, cmds []domain.Command) error {
			return boom
		},
	}, client, time.Minute)

	err := cache.EnqueueCommands(context.Background(), "user-1", []domain.Command{{}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected enqueue error, got %v", err)
	}
	if !mr.Exists(EnrollmentsCacheKey("user-1")) {
		t.Fatal("cache must not be evicted when enqueue fails")
	}
}

func TestCacheWithoutRedisFallsThrough(t *testing.T) {
	var calls int
	cache := NewCache(&stubBackend{
		fetchRoadmapFn: func(ctx context.Context, userID, enrollmentID string) (domain.Roadmap, error) {
			calls++
			return domain.Roadmap{ID: "r1"}, nil
		},
	}, nil, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.FetchRoadmap(context.Background(), "user-1", "e1"); err != nil {
			t.Fatalf("fetch roadmap: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected backend call per fetch without redis, got %d", calls)
	}
}

func TestCacheBackendErrorPropagates(t *testing.T) {
	_, client := newTestRedis(t)
	boom := errors.New("storage down")
	cache := NewCache(&stubBackend{
		fetchRoadmapFn: func(ctx context.Context, userID, enrollmentID string) (domain.Roadmap, error) {
			return domain.Roadmap{}, boom
		},
	}, client, time.Minute)

	if _, err := cache.FetchRoadmap(context.Background(), "user-1", "e1"); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
}
