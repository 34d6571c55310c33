package container

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/samber/do"
	"github.com/serroba/next-number/internal/analytics"
	"github.com/serroba/next-number/internal/analytics/sink"
	"github.com/serroba/next-number/internal/messaging"
	"go.uber.org/zap"
)

const analyticsConsumerGroup = "analytics"

// MessagingPackage provides the lookup event transport. Events travel over redis
// streams when redis is configured, otherwise over an in-process channel that
// the server consumes itself.
func MessagingPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*gochannel.GoChannel, error) {
		return messaging.NewInProcess(do.MustInvoke[*zap.Logger](i)), nil
	})

	publisherGroupPackage(injector)
	consumerGroupPackage(injector)
}

func publisherGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		logger := do.MustInvoke[*zap.Logger](i)

		client, err := do.Invoke[*RedisClient](i)

		switch {
		case errors.Is(err, ErrRedisDisabled):
			return messaging.NewPublisherGroup(do.MustInvoke[*gochannel.GoChannel](i)), nil
		case err != nil:
			return nil, err
		}

		pub, err := messaging.NewRedisStreamPublisher(client.Client, logger)
		if err != nil {
			return nil, err
		}

		return messaging.NewPublisherGroup(pub), nil
	})
}

func consumerGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		logger := do.MustInvoke[*zap.Logger](i)

		var subscriber message.Subscriber

		client, err := do.Invoke[*RedisClient](i)

		switch {
		case errors.Is(err, ErrRedisDisabled):
			subscriber = do.MustInvoke[*gochannel.GoChannel](i)
		case err != nil:
			return nil, err
		default:
			subscriber, err = messaging.NewRedisStreamSubscriber(client.Client, analyticsConsumerGroup, logger)
			if err != nil {
				return nil, err
			}
		}

		return analytics.NewConsumerGroup(subscriber, sink.NewLog(logger.Named("analytics")), logger), nil
	})
}
