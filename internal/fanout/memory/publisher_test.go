package memory

import (
	"context"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	if err := pub.Publish(context.Background(), "job-1", "events", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if err := pub.Publish(context.Background(), "job-1", "metrics", "payload"); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Category != "events" || msgs[1].Category != "metrics" {
		t.Fatalf("categories not recorded correctly: %+v", msgs)
	}

	msgs[0].Category = "modified"
	if pub.Messages()[0].Category == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}
