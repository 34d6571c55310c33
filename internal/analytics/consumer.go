package analytics

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/next-number/internal/messaging"
	"go.uber.org/zap"
)

// NewConsumerGroup subscribes sink to both lookup topics.
// The group owns subscriber and closes it on Shutdown.
func NewConsumerGroup(subscriber message.Subscriber, sink Sink, logger *zap.Logger) *messaging.ConsumerGroup {
	group := messaging.NewConsumerGroup(subscriber, logger)

	group.Add(messaging.NewConsumer(subscriber, TopicLookupCompleted, sink.SaveLookupCompleted, logger))
	group.Add(messaging.NewConsumer(subscriber, TopicLookupThrottled, sink.SaveLookupThrottled, logger))

	return group
}
