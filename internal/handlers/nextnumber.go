package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/next-number/internal/nextnumber"
	"github.com/serroba/next-number/internal/ratelimit"
	"go.uber.org/zap"
)

// Lookup answers next-number queries.
type Lookup interface {
	Next(ctx context.Context, owner, name string) (int, error)
	Windows(ctx context.Context) ([]ratelimit.Window, error)
}

// NextNumberHandler serves the lookup endpoints.
type NextNumberHandler struct {
	lookup Lookup
	logger *zap.Logger
}

// NewNextNumberHandler creates a new handler.
func NewNextNumberHandler(lookup Lookup, logger *zap.Logger) *NextNumberHandler {
	return &NextNumberHandler{lookup: lookup, logger: logger}
}

func (h *NextNumberHandler) GetNextNumber(ctx context.Context, req *NextNumberRequest) (*NextNumberResponse, error) {
	n, err := h.lookup.Next(ctx, req.Owner, req.Name)

	switch {
	case errors.Is(err, nextnumber.ErrRateLimited):
		return nil, huma.Error429TooManyRequests(nextnumber.ErrRateLimited.Error())
	case errors.Is(err, nextnumber.ErrRepositoryNotFound):
		return nil, huma.Error404NotFound(nextnumber.ErrRepositoryNotFound.Error())
	case err != nil:
		return nil, huma.Error500InternalServerError("failed to look up next number")
	}

	return &NextNumberResponse{Body: n}, nil
}

// Head answers liveness probes on the root path.
func (h *NextNumberHandler) Head(_ context.Context, _ *struct{}) (*struct{}, error) {
	return &struct{}{}, nil
}

func (h *NextNumberHandler) GetRateLimit(ctx context.Context, _ *struct{}) (*RateLimitResponse, error) {
	wins, err := h.lookup.Windows(ctx)
	if err != nil {
		h.logger.Error("failed to read rate limit windows", zap.Error(err))

		return nil, huma.Error500InternalServerError("failed to read rate limit")
	}

	resp := &RateLimitResponse{}
	resp.Body.Windows = make([]WindowBody, 0, len(wins))

	for _, w := range wins {
		resp.Body.Windows = append(resp.Body.Windows, WindowBody{
			Duration:  int(w.Duration),
			Limit:     w.Limit,
			Value:     w.Value,
			Remaining: w.Remaining(),
			Expiry:    w.Expiry,
		})
	}

	return resp, nil
}
