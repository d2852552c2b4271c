package domain

import (
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestNormalizeOrdersRewritesPositions(t *testing.T) {
	r := Roadmap{Milestones: []Milestone{
		{Title: "a", Order: 7, Tasks: []Task{{Title: "t1", Order: 3}, {Title: "t2", Order: 3}}},
		{Title: "b", Order: 0},
	}}
	r.NormalizeOrders()
	if r.Milestones[0].Order != 0 || r.Milestones[1].Order != 1 {
		t.Fatalf("milestone orders not contiguous: %d %d", r.Milestones[0].Order, r.Milestones[1].Order)
	}
	if r.Milestones[0].Tasks[0].Order != 0 || r.Milestones[0].Tasks[1].Order != 1 {
		t.Fatalf("task orders not contiguous: %#v", r.Milestones[0].Tasks)
	}
}

func TestNormalizeDropsBlankResources(t *testing.T) {
	r := Roadmap{Milestones: []Milestone{{
		Title: "m",
		Tasks: []Task{{Title: "t", Resources: []string{"https://a", "", "  ", "https://b"}}},
	}}}
	r.Normalize()
	got := r.Milestones[0].Tasks[0].Resources
	if len(got) != 2 || got[0] != "https://a" || got[1] != "https://b" {
		t.Fatalf("unexpected resources: %#v", got)
	}
}

func TestNormalizeDueDates(t *testing.T) {
	tests := []struct {
		name string
		in   *string
		want *string
	}{
		{name: "nil", in: nil, want: nil},
		{name: "blank", in: strPtr("  "), want: nil},
		{name: "date", in: strPtr("2025-03-04"), want: strPtr("2025-03-04T00:00:00Z")},
		{name: "datetime", in: strPtr("2025-03-04T10:30:00Z"), want: strPtr("2025-03-04T10:30:00Z")},
		{name: "garbage", in: strPtr("next tuesday"), want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Roadmap{Milestones: []Milestone{{Title: "m", Tasks: []Task{{Title: "t", DueDate: tt.in}}}}}
			r.Normalize()
			got := r.Milestones[0].Tasks[0].DueDate
			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected nil due date, got %q", *got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Fatalf("expected %q, got %#v", *tt.want, got)
			}
		})
	}
}

func TestNormalizeDefaultsStatus(t *testing.T) {
	r := Roadmap{Milestones: []Milestone{{Title: "m", Status: "bogus", Tasks: []Task{{Title: "t"}}}}}
	r.Normalize()
	if r.Milestones[0].Status != StatusNotStarted {
		t.Fatalf("milestone status not defaulted: %s", r.Milestones[0].Status)
	}
	if r.Milestones[0].Tasks[0].Status != StatusNotStarted {
		t.Fatalf("task status not defaulted: %s", r.Milestones[0].Tasks[0].Status)
	}
}

func TestOverdue(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	yesterday := strPtr("2025-06-14")
	tomorrow := strPtr("2025-06-16")

	if (Task{Status: StatusCompleted, DueDate: yesterday}).Overdue(now) {
		t.Fatal("completed task must never be overdue")
	}
	if !(Task{Status: StatusInProgress, DueDate: yesterday}).Overdue(now) {
		t.Fatal("expected past-due in-progress task to be overdue")
	}
	if (Task{Status: StatusNotStarted, DueDate: tomorrow}).Overdue(now) {
		t.Fatal("future due date must not be overdue")
	}
	if (Task{Status: StatusNotStarted}).Overdue(now) {
		t.Fatal("task without due date must not be overdue")
	}
}

func TestDeriveMilestoneStatus(t *testing.T) {
	cases := []struct {
		name  string
		tasks []Task
		want  Status
	}{
		{name: "no tasks", want: StatusNotStarted},
		{name: "all not started", tasks: []Task{{Status: StatusNotStarted}, {Status: StatusNotStarted}}, want: StatusNotStarted},
		{name: "one in progress", tasks: []Task{{Status: StatusNotStarted}, {Status: StatusInProgress}}, want: StatusInProgress},
		{name: "partially completed", tasks: []Task{{Status: StatusCompleted}, {Status: StatusNotStarted}}, want: StatusInProgress},
		{name: "all completed", tasks: []Task{{Status: StatusCompleted}, {Status: StatusCompleted}}, want: StatusCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveMilestoneStatus(tc.tasks); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}
