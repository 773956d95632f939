package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/slack-go/slack"

	"github.com/giantswarm/latentworker/internal/core"
)

// SlackClient is the subset of *slack.Client used by SlackNotifier, so tests
// can substitute a fake without talking to the Slack API.
type SlackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts a message to a Slack channel for every NotifyTarget of
// kind "slack" configured on a worker.
type SlackNotifier struct {
	client SlackClient

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewSlackNotifier returns a SlackNotifier that posts through client.
func NewSlackNotifier(client SlackClient) *SlackNotifier {
	return &SlackNotifier{client: client, seen: make(map[string]struct{})}
}

// Notify posts event as a message to target.Destination, which is treated as
// a Slack channel ID or name. A given event.EventID is posted at most once
// per notifier, so a Dispatcher that retries WorkerMissing after a transient
// error doesn't double-post the same alert. Errors are returned, never
// panicked; callers typically log-and-continue across multiple targets.
func (n *SlackNotifier) Notify(ctx context.Context, target core.NotifyTarget, event core.WorkerMissingEvent) error {
	if target.Kind != "slack" {
		return fmt.Errorf("slacknotify: unsupported target kind %q", target.Kind)
	}

	dedupeKey := event.EventID + "|" + target.Destination
	n.mu.Lock()
	if _, ok := n.seen[dedupeKey]; ok {
		n.mu.Unlock()
		return nil
	}
	n.seen[dedupeKey] = struct{}{}
	n.mu.Unlock()

	text := fmt.Sprintf("worker %s reported missing: %s", event.WorkerName, event.Reason)
	_, _, err := n.client.PostMessageContext(ctx, target.Destination, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slacknotify: post message to %s: %w", target.Destination, err)
	}
	return nil
}
