package container

import (
	"github.com/samber/do"
	"github.com/serroba/next-number/internal/analytics"
	"github.com/serroba/next-number/internal/github"
	"github.com/serroba/next-number/internal/messaging"
	"github.com/serroba/next-number/internal/metrics"
	"github.com/serroba/next-number/internal/nextnumber"
	"github.com/serroba/next-number/internal/ratelimit"
	"github.com/serroba/next-number/internal/store"
	"go.uber.org/zap"
)

// MetricsPackage provides the Prometheus collectors.
func MetricsPackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*metrics.Metrics, error) {
		return metrics.New(), nil
	})
}

// ServicePackage provides the lookup service.
func ServicePackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*github.Client, error) {
		opts := do.MustInvoke[*Options](i)

		return github.NewClient(opts.GitHubToken, github.WithEndpoint(opts.GitHubAPI)), nil
	})

	do.Provide(injector, func(i *do.Injector) (*nextnumber.Service, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)
		backend := do.MustInvoke[store.Backend](i)
		publishers := do.MustInvoke[*messaging.PublisherGroup](i)

		return nextnumber.NewService(
			backend,
			do.MustInvoke[*github.Client](i),
			LookupConfig(opts),
			logger,
			nextnumber.WithEvents(analytics.NewPublisher(publishers.Publisher())),
			nextnumber.WithObserver(do.MustInvoke[*metrics.Metrics](i)),
		)
	})
}

// LookupConfig builds the lookup rate limit from Options.
func LookupConfig(opts *Options) nextnumber.Config {
	config := nextnumber.DefaultConfig()
	config.Policy = ratelimit.Policy{
		{Duration: ratelimit.Hour, Limit: int64(opts.HourlyLimit)},
		{Duration: ratelimit.Day, Limit: int64(opts.DailyLimit)},
	}
	config.MaxWindows = int64(opts.MaxWindows)

	return config
}
