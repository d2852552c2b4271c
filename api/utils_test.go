package api

import (
	"sort"
	"sync"
	"testing"

	"roadmap-api/domain"
)

func TestFinalizeCommandsGeneratesKeys(t *testing.T) {
	cmds := []domain.Command{
		{EntityType: domain.EntityRoadmap, Type: domain.RoadmapCreated},
		{EntityType: domain.EntityTask, Type: domain.TaskStatusChanged, IdempotencyKey: "client-key"},
	}

	keys := finalizeCommands(cmds)
	if len(keys) != 2 {
		t.Fatalf("expected two keys, got %d", len(keys))
	}
	if keys[0] == "" {
		t.Fatal("expected a generated key for the first command")
	}
	if keys[1] != "client-key" {
		t.Fatalf("client key must be preserved, got %q", keys[1])
	}
	for i, cmd := range cmds {
		if cmd.ID != keys[i] {
			t.Fatalf("command %d id %q does not match key %q", i, cmd.ID, keys[i])
		}
		if cmd.Timestamp == 0 {
			t.Fatalf("command %d missing timestamp", i)
		}
	}
	if cmds[1].Timestamp <= cmds[0].Timestamp {
		t.Fatalf("timestamps must increase: %d then %d", cmds[0].Timestamp, cmds[1].Timestamp)
	}
}

func TestNextTimestampIsStrictlyIncreasing(t *testing.T) {
	const n = 1000
	results := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = nextTimestamp()
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, k int) bool { return results[i] < results[k] })
	for i := 1; i < n; i++ {
		if results[i] == results[i-1] {
			t.Fatalf("duplicate timestamp %d", results[i])
		}
	}
}
