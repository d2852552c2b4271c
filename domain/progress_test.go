package domain

import (
	"testing"
	"time"
)

func TestSummarizeEmptyRoadmap(t *testing.T) {
	s := Summarize(Roadmap{}, time.Now())
	if s.OverallProgress != 0 {
		t.Fatalf("expected 0%% for empty roadmap, got %d", s.OverallProgress)
	}
	if s.TotalTasks != 0 {
		t.Fatalf("expected no tasks, got %d", s.TotalTasks)
	}
}

func TestSummarizeHalfDone(t *testing.T) {
	r := Roadmap{Milestones: []Milestone{
		{Tasks: []Task{{Status: StatusCompleted}, {Status: StatusInProgress}}},
		{Tasks: []Task{{Status: StatusCompleted}, {Status: StatusNotStarted}}},
	}}
	s := Summarize(r, time.Now())
	if s.OverallProgress != 50 {
		t.Fatalf("expected 50%%, got %d", s.OverallProgress)
	}
	if s.Completed != 2 || s.InProgress != 1 || s.NotStarted != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
}

func TestSummarizeRounds(t *testing.T) {
	r := Roadmap{Milestones: []Milestone{
		{Tasks: []Task{{Status: StatusCompleted}, {Status: StatusCompleted}, {Status: StatusNotStarted}}},
	}}
	s := Summarize(r, time.Now())
	if s.OverallProgress != 67 {
		t.Fatalf("expected 67%% for 2/3, got %d", s.OverallProgress)
	}
}

func TestSummarizeCountsOverdue(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	past := "2025-06-01"
	r := Roadmap{Milestones: []Milestone{{Tasks: []Task{
		{Status: StatusNotStarted, DueDate: &past},
		{Status: StatusCompleted, DueDate: &past},
	}}}}
	s := Summarize(r, now)
	if s.Overdue != 1 {
		t.Fatalf("expected 1 overdue task, got %d", s.Overdue)
	}
}

func TestSummarizeTasksUnknownStatusCountsAsNotStarted(t *testing.T) {
	s := SummarizeTasks([]Task{{Status: "weird"}}, time.Now())
	if s.NotStarted != 1 {
		t.Fatalf("expected unknown status to count as not started: %+v", s)
	}
}
