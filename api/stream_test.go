package api

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestUpdateBrokerBroadcast(t *testing.T) {
	broker := NewUpdateBroker()
	a := broker.Subscribe("user-1")
	b := broker.Subscribe("user-1")
	other := broker.Subscribe("user-2")
	broker.Unsubscribe("user-1", b)

	broker.Broadcast("user-1", []byte("snapshot"))

	select {
	case data := <-a:
		if string(data) != "snapshot" {
			t.Fatalf("unexpected payload %q", data)
		}
	default:
		t.Fatal("subscriber a received nothing")
	}
	select {
	case <-b:
		t.Fatal("unsubscribed channel received data")
	default:
	}
	select {
	case <-other:
		t.Fatal("other user received data")
	default:
	}
}

func TestSubscribeRoadmapUpdates(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	store := &mockStore{roadmap: sampleRoadmap()}
	broker := NewUpdateBroker()
	ch := broker.Subscribe("user-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		SubscribeRoadmapUpdates(ctx, discardLogger(), rc, store, "roadmap-updates", broker)
		close(done)
	}()
	// wait for the subscription to be established
	time.Sleep(50 * time.Millisecond)

	payload := `{"UserId":"user-1","EnrollmentId":"e1"}`
	if err := rc.Publish(context.Background(), "roadmap-updates", payload).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case data := <-ch:
		body := string(data)
		if !strings.Contains(body, `"r1"`) || !strings.Contains(body, "overallProgress") {
			t.Fatalf("unexpected snapshot %s", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot broadcast")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscription loop did not exit")
	}
}
