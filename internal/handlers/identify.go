package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"contactrecon/internal/database"
	"contactrecon/internal/logger"
	"contactrecon/internal/models"
	"contactrecon/internal/service"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// maxBodyBytes caps the size of an identify request body
const maxBodyBytes = 1 << 16

// IdentifyHandler handles the /identify endpoint
type IdentifyHandler struct {
	service  *service.ReconciliationService
	validate *validator.Validate
	logger   *zap.Logger
}

// NewIdentifyHandler creates a new identify handler
func NewIdentifyHandler(svc *service.ReconciliationService, log *zap.Logger) *IdentifyHandler {
	return &IdentifyHandler{
		service:  svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log,
	}
}

// Handle processes the identify request
func (h *IdentifyHandler) Handle(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With(zap.String(logger.FieldRequestID, RequestIDFromContext(r.Context())))

	var req models.IdentifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		log.Info("error decoding request", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Info("invalid request", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	response, err := h.service.Identify(r.Context(), req.Descriptor())
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, service.ErrOrphanedCluster):
		log.Warn("matched contacts have no live primary", zap.Error(err))
		writeError(w, r, http.StatusConflict, service.ErrOrphanedCluster.Error())
		return
	case errors.Is(err, database.ErrUnavailable):
		log.Error("contact store unavailable", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "Service unavailable")
		return
	default:
		log.Error("error processing identify request", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, response, log)
}

// validationMessage turns validator errors into a client-facing message
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fe.Field() + " failed " + fe.Tag() + " validation"
	}
	return "Invalid request"
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg, RequestID: RequestIDFromContext(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v any, log *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("error encoding response", zap.Error(err))
	}
}
