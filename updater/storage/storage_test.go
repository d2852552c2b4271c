package storage

import (
	"testing"
)

func TestRoadmapFilterQuotesCommandValues(t *testing.T) {
	got := roadmapFilter("user-1", "x' or PartitionKey ne 'x")
	want := "PartitionKey eq 'user-1' and EnrollmentID eq 'x'' or PartitionKey ne ''x'"
	if got != want {
		t.Fatalf("filter = %q, want %q", got, want)
	}
}

func TestRoadmapEntityDecode(t *testing.T) {
	ent := RoadmapEntity{
		Entity:       Entity{PartitionKey: "user-1", RowKey: "r1"},
		EnrollmentID: "e1",
		Title:        "Backend Track",
		Description:  "Twelve week plan",
		Milestones:   `[{"title":"Phase One","description":"","status":"NOT_STARTED","order":0,"tasks":[]}]`,
		CreatedAt:    "2025-01-02T03:04:05Z",
		UpdatedAt:    "2025-01-03T03:04:05Z",
	}
	r, err := ent.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.ID != "r1" || r.EnrollmentID != "e1" || r.Title != "Backend Track" {
		t.Fatalf("unexpected roadmap: %#v", r)
	}
	if r.Description == nil || *r.Description != "Twelve week plan" {
		t.Fatalf("unexpected description: %#v", r.Description)
	}
	if len(r.Milestones) != 1 {
		t.Fatalf("unexpected milestones: %#v", r.Milestones)
	}
	if r.CreatedAt.IsZero() || r.UpdatedAt.IsZero() {
		t.Fatal("timestamps not parsed")
	}
}

func TestRoadmapEntityDecodeBadMilestonesBlob(t *testing.T) {
	ent := RoadmapEntity{Entity: Entity{RowKey: "r1"}, Milestones: "{broken"}
	if _, err := ent.Decode(); err == nil {
		t.Fatal("expected error for corrupt milestones column")
	}
}
