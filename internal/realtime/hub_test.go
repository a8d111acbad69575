package realtime

import (
	"strings"
	"testing"
)

func TestHub_Subscribe_Publish_Unsubscribe(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	hub.PublishJSON(map[string]string{"type": "test"})
	msg := <-ch
	if !strings.Contains(string(msg), "test") {
		t.Errorf("PublishJSON: got %s", msg)
	}
	hub.Unsubscribe(ch)
	_, ok := <-ch
	if ok {
		t.Error("expected channel closed after Unsubscribe")
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)
	for i := 0; i < 300; i++ {
		hub.PublishJSON(map[string]int{"i": i})
	}
	// publisher must not have blocked; draining a handful of messages is enough
	// to prove the channel is alive and was never deadlocked on.
	<-ch
}

func TestPublish_WrapsEnvelope(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)
	Publish(hub, "task.status_changed", "team-1", map[string]any{"task_id": 7})
	msg := <-ch
	if !strings.Contains(string(msg), `"type":"task.status_changed"`) {
		t.Errorf("Publish: got %s", msg)
	}
	if !strings.Contains(string(msg), `"team_id":"team-1"`) {
		t.Errorf("Publish: got %s", msg)
	}
}
