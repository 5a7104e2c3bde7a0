// Package publisher announces finished crawl and analysis runs to
// downstream consumers.
package publisher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/telemetry"
)

// Event kinds.
const (
	KindCrawlCompleted    = "crawl.completed"
	KindCrawlFailed       = "crawl.failed"
	KindAnalysisCompleted = "analysis.completed"
)

// Publisher sends one payload to a topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Event is the notification payload.
type Event struct {
	Kind       string            `json:"kind"`
	RunID      string            `json:"run_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Artifacts  map[string]string `json:"artifacts,omitempty"`
	Summary    any               `json:"summary,omitempty"`
}

// Notifier publishes Events on a fixed topic. Delivery is best effort:
// failures are logged and never fail the run that produced the event.
type Notifier struct {
	pub    Publisher
	topic  string
	logger *zap.Logger
}

// NewNotifier wraps pub. A nil pub yields a Notifier that does nothing.
func NewNotifier(pub Publisher, topic string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{pub: pub, topic: topic, logger: logger}
}

// Notify publishes evt and returns the message ID, or "" when delivery was
// skipped or failed.
func (n *Notifier) Notify(ctx context.Context, evt Event) string {
	if n == nil || n.pub == nil {
		return ""
	}
	id, err := n.pub.Publish(telemetry.WithRunID(ctx, evt.RunID), n.topic, evt)
	if err != nil {
		n.logger.Warn("notification failed",
			zap.String("topic", n.topic),
			zap.String("kind", evt.Kind),
			zap.Error(err),
		)
		return ""
	}
	n.logger.Info("notification published",
		zap.String("topic", n.topic),
		zap.String("kind", evt.Kind),
		zap.String("message_id", id),
	)
	return id
}
