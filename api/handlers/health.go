package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"videoLabeler/api/dto"
)

type HealthReporter interface {
	Health(ctx context.Context) dto.HealthResponse
}

type HealthHandler struct {
	responder
	reporter HealthReporter
}

func NewHealthHandler(reporter HealthReporter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{responder: responder{logger: logger}, reporter: reporter}
}

// Health reports registry size and sink reachability. Unreachable sinks do
// not make the server unhealthy since they are optional.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	h.respondJSON(w, http.StatusOK, h.reporter.Health(ctx))
}
