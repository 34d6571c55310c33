package analytics

import "time"

const (
	TopicLookupCompleted = "lookup.completed"
	TopicLookupThrottled = "lookup.throttled"
)

// LookupCompletedEvent is emitted after a next number was computed and recorded.
type LookupCompletedEvent struct {
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	Next        int       `json:"next"`
	RequestID   string    `json:"requestId,omitempty"`
	ClientIP    string    `json:"clientIp,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

// LookupThrottledEvent is emitted when a lookup was rejected by the rate limiter.
type LookupThrottledEvent struct {
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	RequestID   string    `json:"requestId,omitempty"`
	ClientIP    string    `json:"clientIp,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}
