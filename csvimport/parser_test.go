package csvimport

import (
	"reflect"
	"testing"

	"roadmap-api/domain"
)

func TestParseGroupsRowsByMilestoneTitle(t *testing.T) {
	doc := TemplateHeader + "\n" +
		"Phase One,First phase,Task A,Do A,,2025-01-01\n" +
		"Phase One,ignored later description,Task B,Do B,,\n"
	ms := Parse(doc)
	if len(ms) != 1 {
		t.Fatalf("expected 1 milestone, got %d", len(ms))
	}
	m := ms[0]
	if m.Description != "First phase" {
		t.Fatalf("first-seen description must win, got %q", m.Description)
	}
	if len(m.Tasks) != 2 || m.Tasks[0].Title != "Task A" || m.Tasks[1].Title != "Task B" {
		t.Fatalf("unexpected tasks: %#v", m.Tasks)
	}
	if m.Tasks[0].Order != 0 || m.Tasks[1].Order != 1 {
		t.Fatalf("task order not positional: %#v", m.Tasks)
	}
}

func TestParseHeaderOnly(t *testing.T) {
	if ms := Parse(TemplateHeader); len(ms) != 0 {
		t.Fatalf("expected no milestones, got %d", len(ms))
	}
	if ms := Parse(""); len(ms) != 0 {
		t.Fatalf("expected no milestones for empty input, got %d", len(ms))
	}
}

func TestParseSkipsShortRows(t *testing.T) {
	doc := TemplateHeader + "\n" + "only,five,fields,in,here\n"
	if ms := Parse(doc); len(ms) != 0 {
		t.Fatalf("five-field row must be skipped, got %#v", ms)
	}
}

func TestParseSkipsRowsWithoutMandatoryTitles(t *testing.T) {
	doc := TemplateHeader + "\n" +
		",desc,Task A,Do A,,\n" +
		"Phase One,desc,   ,Do B,,\n"
	if ms := Parse(doc); len(ms) != 0 {
		t.Fatalf("rows without titles must be skipped, got %#v", ms)
	}
}

func TestParseSkipsBlankLines(t *testing.T) {
	doc := TemplateHeader + "\n\n   \nPhase One,d,Task A,a,,\n"
	ms := Parse(doc)
	if len(ms) != 1 || len(ms[0].Tasks) != 1 {
		t.Fatalf("expected a single milestone and task, got %#v", ms)
	}
}

func TestParseResourcesKeepEmptiesAndStripQuotes(t *testing.T) {
	doc := TemplateHeader + "\n" +
		`Phase One,d,Task A,a,"""https://a"", ""https://b"", ",2025-01-01` + "\n"
	ms := Parse(doc)
	if len(ms) != 1 || len(ms[0].Tasks) != 1 {
		t.Fatalf("unexpected parse result: %#v", ms)
	}
	got := ms[0].Tasks[0].Resources
	want := []string{"https://a", "https://b", ""}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestParseDueDate(t *testing.T) {
	doc := TemplateHeader + "\n" +
		"Phase One,d,Task A,a,,2025-05-01\n" +
		"Phase One,d,Task B,b,,\n"
	ms := Parse(doc)
	tasks := ms[0].Tasks
	if tasks[0].DueDate == nil || *tasks[0].DueDate != "2025-05-01" {
		t.Fatalf("unexpected due date: %#v", tasks[0].DueDate)
	}
	if tasks[1].DueDate != nil {
		t.Fatalf("expected nil due date, got %q", *tasks[1].DueDate)
	}
}

func TestParseMilestoneOrderIsFirstSeen(t *testing.T) {
	doc := TemplateHeader + "\n" +
		"Beta,d,T1,x,,\n" +
		"Alpha,d,T2,x,,\n" +
		"Beta,d,T3,x,,\n"
	ms := Parse(doc)
	if len(ms) != 2 || ms[0].Title != "Beta" || ms[1].Title != "Alpha" {
		t.Fatalf("milestones not in first-seen order: %#v", ms)
	}
	if ms[0].Order != 0 || ms[1].Order != 1 {
		t.Fatalf("unexpected milestone orders: %#v", ms)
	}
}

func TestParseTemplateRoundTrip(t *testing.T) {
	ms := Parse(Template())
	if len(ms) != 3 {
		t.Fatalf("expected 3 milestones, got %d", len(ms))
	}
	wantTitles := []string{"Foundation Phase", "Development Phase", "Advanced Phase"}
	wantTasks := []int{2, 2, 1}
	for i, m := range ms {
		if m.Title != wantTitles[i] {
			t.Fatalf("milestone %d: expected %q, got %q", i, wantTitles[i], m.Title)
		}
		if len(m.Tasks) != wantTasks[i] {
			t.Fatalf("milestone %q: expected %d tasks, got %d", m.Title, wantTasks[i], len(m.Tasks))
		}
		if m.Status != domain.StatusNotStarted {
			t.Fatalf("imported milestones start NOT_STARTED, got %s", m.Status)
		}
	}
	second := ms[0].Tasks[1]
	if len(second.Resources) != 2 || second.Resources[0] != "https://example.com/templates/pdp" {
		t.Fatalf("unexpected resources: %#v", second.Resources)
	}
	if second.DueDate == nil || *second.DueDate != "2025-02-15" {
		t.Fatalf("unexpected due date: %#v", second.DueDate)
	}
}
