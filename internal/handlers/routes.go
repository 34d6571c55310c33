package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// RegisterRoutes registers the lookup routes.
func RegisterRoutes(api huma.API, h *NextNumberHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "get-next-number",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Next number",
		Description: "Returns the number the next discussion, issue or pull request of the repository will get.",
		Tags:        []string{"Lookup"},
		Errors:      []int{http.StatusNotFound, http.StatusTooManyRequests},
	}, h.GetNextNumber)

	huma.Register(api, huma.Operation{
		OperationID:   "head-root",
		Method:        http.MethodHead,
		Path:          "/",
		Summary:       "Liveness",
		Tags:          []string{"Lookup"},
		DefaultStatus: http.StatusOK,
	}, h.Head)

	huma.Register(api, huma.Operation{
		OperationID: "get-rate-limit",
		Method:      http.MethodGet,
		Path:        "/ratelimit",
		Summary:     "Lookup quota",
		Description: "Reports the current rate limit windows. Reading them does not count as a lookup.",
		Tags:        []string{"Lookup"},
	}, h.GetRateLimit)
}
