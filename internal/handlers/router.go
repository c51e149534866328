package handlers

import (
	"net/http"

	"contactrecon/internal/database"
	"contactrecon/internal/metrics"
	"contactrecon/internal/service"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// NewRouter wires the identify, health and metrics endpoints.
func NewRouter(svc *service.ReconciliationService, store database.Store, log *zap.Logger, m *metrics.Metrics) http.Handler {
	router := mux.NewRouter()
	router.Use(RequestID, AccessLog(log, m), Recovery(log))

	router.HandleFunc("/identify", NewIdentifyHandler(svc, log).Handle).Methods(http.MethodPost)
	router.HandleFunc("/health", NewHealthHandler(store, log).Handle).Methods(http.MethodGet)
	if m != nil {
		router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	return router
}
