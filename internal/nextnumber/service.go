package nextnumber

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/serroba/next-number/internal/analytics"
	"github.com/serroba/next-number/internal/github"
	"github.com/serroba/next-number/internal/ratelimit"
	"go.uber.org/zap"
)

// Outcome labels how a lookup ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeThrottled Outcome = "throttled"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeFailed    Outcome = "failed"
)

// NumberSource returns the last number handed out in a repository.
type NumberSource interface {
	LastNumber(ctx context.Context, owner, name string) (int, error)
}

// EventPublisher emits lookup events.
type EventPublisher interface {
	PublishLookupCompleted(ctx context.Context, event *analytics.LookupCompletedEvent) error
	PublishLookupThrottled(ctx context.Context, event *analytics.LookupThrottledEvent) error
}

// Observer records lookup outcomes.
type Observer interface {
	LookupFinished(outcome Outcome, elapsed time.Duration)
}

// Config is the rate limit applied to lookups. Every lookup counts against
// the same Key, so the quota protects the GitHub token, not individual clients.
type Config struct {
	Prefix     string
	Key        string
	Policy     ratelimit.Policy
	MaxWindows int64
}

// DefaultConfig allows 25 lookups per hour and 100 per day.
func DefaultConfig() Config {
	return Config{
		Prefix: "api",
		Key:    "query",
		Policy: ratelimit.Policy{
			{Duration: ratelimit.Hour, Limit: 25},
			{Duration: ratelimit.Day, Limit: 100},
		},
		MaxWindows: ratelimit.DefaultMaxWindows,
	}
}

// Service answers next-number lookups.
type Service struct {
	opener   Opener
	source   NumberSource
	events   EventPublisher
	observer Observer
	clock    clockwork.Clock
	config   Config
	logger   *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEvents publishes lookup events through p.
func WithEvents(p EventPublisher) ServiceOption {
	return func(s *Service) {
		s.events = p
	}
}

// WithObserver reports lookup outcomes to o.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) {
		s.observer = o
	}
}

// WithClock sets the clock for rate limiting and history timestamps.
func WithClock(c clockwork.Clock) ServiceOption {
	return func(s *Service) {
		s.clock = c
	}
}

// NewService validates config and creates a Service.
func NewService(
	opener Opener, source NumberSource, config Config, logger *zap.Logger, opts ...ServiceOption,
) (*Service, error) {
	if err := config.Policy.Validate(); err != nil {
		return nil, err
	}

	if config.MaxWindows <= 0 {
		return nil, fmt.Errorf("%w: max windows %d must be positive", ratelimit.ErrInvalidPolicy, config.MaxWindows)
	}

	s := &Service{
		opener:   opener,
		source:   source,
		events:   nopEvents{},
		observer: nopObserver{},
		clock:    clockwork.NewRealClock(),
		config:   config,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Next returns the number the next discussion, issue or pull request of owner/name will get.
//
// Every call counts against the quota, including calls that end up rejected.
// The answer is recorded as query history before it is returned.
func (s *Service) Next(ctx context.Context, owner, name string) (int, error) {
	start := s.clock.Now().UTC()

	next, outcome, err := s.next(ctx, owner, name, start)

	s.observer.LookupFinished(outcome, s.clock.Now().Sub(start))

	meta := RequestMetaFromContext(ctx)

	switch outcome {
	case OutcomeCompleted:
		s.publish("lookup completed", func() error {
			return s.events.PublishLookupCompleted(ctx, &analytics.LookupCompletedEvent{
				Owner:       owner,
				Name:        name,
				Next:        next,
				RequestID:   meta.RequestID,
				ClientIP:    meta.ClientIP,
				RequestedAt: start,
			})
		})
	case OutcomeThrottled:
		s.logger.Info("lookup throttled",
			zap.String("owner", owner),
			zap.String("name", name),
			zap.String("clientIp", meta.ClientIP),
		)
		s.publish("lookup throttled", func() error {
			return s.events.PublishLookupThrottled(ctx, &analytics.LookupThrottledEvent{
				Owner:       owner,
				Name:        name,
				RequestID:   meta.RequestID,
				ClientIP:    meta.ClientIP,
				RequestedAt: start,
			})
		})
	case OutcomeNotFound:
		s.logger.Debug("repository not found", zap.String("owner", owner), zap.String("name", name))
	case OutcomeFailed:
		s.logger.Error("lookup failed",
			zap.String("owner", owner),
			zap.String("name", name),
			zap.Error(err),
		)
	}

	return next, err
}

func (s *Service) next(ctx context.Context, owner, name string, now time.Time) (int, Outcome, error) {
	session, err := s.opener.Open(ctx)
	if err != nil {
		return 0, OutcomeFailed, fmt.Errorf("open session: %w", err)
	}
	defer s.close(session)

	limiter, err := s.limiter(session)
	if err != nil {
		return 0, OutcomeFailed, err
	}

	blocked, err := limiter.UpdateAndCheck(ctx, s.config.Key, 1)
	if err != nil {
		return 0, OutcomeFailed, fmt.Errorf("rate limit: %w", err)
	}

	if blocked {
		return 0, OutcomeThrottled, ErrRateLimited
	}

	last, err := s.source.LastNumber(ctx, owner, name)

	switch {
	case errors.Is(err, github.ErrRepositoryNotFound):
		return 0, OutcomeNotFound, fmt.Errorf("%w: %s/%s", ErrRepositoryNotFound, owner, name)
	case err != nil:
		return 0, OutcomeFailed, fmt.Errorf("lookup %s/%s: %w", owner, name, err)
	}

	next := last + 1

	if err := session.SaveQuery(ctx, &Query{At: now, Owner: owner, Name: name, Result: next}); err != nil {
		return 0, OutcomeFailed, fmt.Errorf("save query: %w", err)
	}

	if err := session.Commit(ctx); err != nil {
		return 0, OutcomeFailed, fmt.Errorf("commit query: %w", err)
	}

	return next, OutcomeCompleted, nil
}

// Windows returns the current lookup quota windows without counting a lookup.
func (s *Service) Windows(ctx context.Context) ([]ratelimit.Window, error) {
	session, err := s.opener.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer s.close(session)

	limiter, err := s.limiter(session)
	if err != nil {
		return nil, err
	}

	return limiter.Windows(ctx, s.config.Key)
}

func (s *Service) limiter(session Session) (*ratelimit.Limiter, error) {
	return ratelimit.New(s.config.Prefix, s.config.Policy, session,
		ratelimit.WithClock(s.clock),
		ratelimit.WithMaxWindows(s.config.MaxWindows),
	)
}

func (s *Service) close(session Session) {
	if err := session.Close(); err != nil {
		s.logger.Warn("failed to close session", zap.Error(err))
	}
}

func (s *Service) publish(what string, fn func() error) {
	if err := fn(); err != nil {
		s.logger.Warn("failed to publish event", zap.String("event", what), zap.Error(err))
	}
}

type nopEvents struct{}

func (nopEvents) PublishLookupCompleted(context.Context, *analytics.LookupCompletedEvent) error {
	return nil
}

func (nopEvents) PublishLookupThrottled(context.Context, *analytics.LookupThrottledEvent) error {
	return nil
}

type nopObserver struct{}

func (nopObserver) LookupFinished(Outcome, time.Duration) {}
