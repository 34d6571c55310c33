package middleware

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jonboulle/clockwork"
	"github.com/serroba/next-number/internal/nextnumber"
	"go.uber.org/zap"
)

// RequestObserver records served requests.
type RequestObserver interface {
	RequestServed(method string, status int, elapsed time.Duration)
}

// RequestLog returns a Huma middleware that times each request, logs it, and
// persists it to the request log through its own store session.
// Failing to persist is logged and never changes the response.
func RequestLog(
	opener nextnumber.Opener,
	observer RequestObserver,
	clk clockwork.Clock,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := clk.Now().UTC()

		next(ctx)

		elapsed := clk.Now().Sub(start)
		status := ctx.Status()
		meta := nextnumber.RequestMetaFromContext(ctx.Context())

		req := &nextnumber.Request{
			At:        start,
			RequestID: meta.RequestID,
			Method:    ctx.Method(),
			Path:      requestPath(ctx),
			Status:    status,
			Duration:  elapsed,
			ClientIP:  meta.ClientIP,
		}

		logger.Info("request",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("client_ip", req.ClientIP),
			zap.String("request_id", req.RequestID),
		)

		if observer != nil {
			observer.RequestServed(req.Method, status, elapsed)
		}

		// The request context may already be cancelled once the response is written.
		if err := saveRequest(context.WithoutCancel(ctx.Context()), opener, req); err != nil {
			logger.Warn("failed to persist request log",
				zap.String("request_id", req.RequestID),
				zap.Error(err),
			)
		}
	}
}

func saveRequest(ctx context.Context, opener nextnumber.Opener, req *nextnumber.Request) error {
	session, err := opener.Open(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.SaveRequest(ctx, req); err != nil {
		return err
	}

	return session.Commit(ctx)
}

func requestPath(ctx huma.Context) string {
	u := ctx.URL()

	return u.Path
}
