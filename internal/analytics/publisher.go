package analytics

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/next-number/internal/messaging"
)

// Publisher publishes lookup events.
type Publisher struct {
	completed messaging.Publish[LookupCompletedEvent]
	throttled messaging.Publish[LookupThrottledEvent]
}

// NewPublisher creates a publisher for both lookup topics.
func NewPublisher(publisher message.Publisher) *Publisher {
	return &Publisher{
		completed: messaging.NewPublishFunc[LookupCompletedEvent](publisher, TopicLookupCompleted),
		throttled: messaging.NewPublishFunc[LookupThrottledEvent](publisher, TopicLookupThrottled),
	}
}

func (p *Publisher) PublishLookupCompleted(ctx context.Context, event *LookupCompletedEvent) error {
	return p.completed(ctx, event)
}

func (p *Publisher) PublishLookupThrottled(ctx context.Context, event *LookupThrottledEvent) error {
	return p.throttled(ctx, event)
}
