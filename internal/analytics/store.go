package analytics

import "context"

// Sink receives consumed lookup events.
type Sink interface {
	SaveLookupCompleted(ctx context.Context, event *LookupCompletedEvent) error
	SaveLookupThrottled(ctx context.Context, event *LookupThrottledEvent) error
}
