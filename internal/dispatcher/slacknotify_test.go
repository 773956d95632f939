package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/giantswarm/latentworker/internal/core"
)

func TestSlackNotifierPostsText(t *testing.T) {
	client := &fakeSlackClient{}
	n := NewSlackNotifier(client)

	err := n.Notify(context.Background(), core.NotifyTarget{Kind: "slack", Destination: "#builds"},
		core.WorkerMissingEvent{WorkerName: "worker-1", Reason: "missing_timeout"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(client.calls) != 1 || client.calls[0] != "#builds" {
		t.Fatalf("unexpected calls: %v", client.calls)
	}
}

func TestSlackNotifierRejectsNonSlackTarget(t *testing.T) {
	n := NewSlackNotifier(&fakeSlackClient{})
	err := n.Notify(context.Background(), core.NotifyTarget{Kind: "log", Destination: "whatever"}, core.WorkerMissingEvent{})
	if err == nil {
		t.Fatal("expected error for non-slack target kind")
	}
}

func TestSlackNotifierSkipsDuplicateEventID(t *testing.T) {
	client := &fakeSlackClient{}
	n := NewSlackNotifier(client)
	target := core.NotifyTarget{Kind: "slack", Destination: "#builds"}
	event := core.WorkerMissingEvent{EventID: "evt-1", WorkerName: "worker-1", Reason: "missing_timeout"}

	if err := n.Notify(context.Background(), target, event); err != nil {
		t.Fatalf("first Notify: %v", err)
	}
	if err := n.Notify(context.Background(), target, event); err != nil {
		t.Fatalf("second Notify: %v", err)
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected exactly one post for a repeated EventID, got %d", len(client.calls))
	}
}

func TestSlackNotifierWrapsClientError(t *testing.T) {
	client := &fakeSlackClient{err: errors.New("rate limited")}
	n := NewSlackNotifier(client)
	err := n.Notify(context.Background(), core.NotifyTarget{Kind: "slack", Destination: "#builds"}, core.WorkerMissingEvent{WorkerName: "worker-1"})
	if err == nil {
		t.Fatal("expected wrapped client error")
	}
}
