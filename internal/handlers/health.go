package handlers

import (
	"context"
	"net/http"
	"time"

	"contactrecon/internal/database"

	"go.uber.org/zap"
)

// HealthHandler reports whether the contact store is reachable.
type HealthHandler struct {
	store  database.Store
	logger *zap.Logger
}

func NewHealthHandler(store database.Store, log *zap.Logger) *HealthHandler {
	return &HealthHandler{store: store, logger: log}
}

func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, h.logger)
}
