package container

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jaevor/go-nanoid"
	"github.com/jonboulle/clockwork"
	"github.com/samber/do"
	"github.com/serroba/next-number/internal/handlers"
	"github.com/serroba/next-number/internal/health"
	"github.com/serroba/next-number/internal/metrics"
	"github.com/serroba/next-number/internal/middleware"
	"github.com/serroba/next-number/internal/nextnumber"
	"github.com/serroba/next-number/internal/store"
	"go.uber.org/zap"
)

const requestIDLength = 21

// HTTPPackage provides the router and the huma API with every route registered.
func HTTPPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*chi.Mux, error) {
		opts := do.MustInvoke[*Options](i)

		router := chi.NewMux()
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{opts.AllowedOrigin},
			AllowedMethods: []string{http.MethodGet, http.MethodHead},
		}))
		router.Handle("/metrics", do.MustInvoke[*metrics.Metrics](i).Handler())

		return router, nil
	})

	do.Provide(injector, func(i *do.Injector) (huma.API, error) {
		router := do.MustInvoke[*chi.Mux](i)
		logger := do.MustInvoke[*zap.Logger](i)
		backend := do.MustInvoke[store.Backend](i)

		newID, err := nanoid.Standard(requestIDLength)
		if err != nil {
			return nil, err
		}

		api := humachi.New(router, huma.DefaultConfig("Next Number", "1.0.0"))
		api.UseMiddleware(
			middleware.RequestMeta(newID),
			middleware.RequestLog(backend, do.MustInvoke[*metrics.Metrics](i), clockwork.NewRealClock(), logger),
		)

		handlers.RegisterRoutes(api, handlers.NewNextNumberHandler(do.MustInvoke[*nextnumber.Service](i), logger))

		redisChecker, err := redisHealthChecker(i)
		if err != nil {
			return nil, err
		}

		health.RegisterRoutes(api, health.NewHandler(backend, redisChecker))

		return api, nil
	})
}

func redisHealthChecker(i *do.Injector) (health.Checker, error) {
	client, err := do.Invoke[*RedisClient](i)

	switch {
	case errors.Is(err, ErrRedisDisabled):
		return nil, nil
	case err != nil:
		return nil, err
	}

	return health.NewRedisChecker(client.Client), nil
}
