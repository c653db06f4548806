package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

type PersistedService interface {
	Persisted(ctx context.Context) map[string]bool
	ClearPersisted(ctx context.Context)
}

type PersistedHandler struct {
	service PersistedService
	logger  *zap.Logger
}

func NewPersistedHandler(s PersistedService, logger *zap.Logger) *PersistedHandler {
	return &PersistedHandler{service: s, logger: logger}
}

// Summary — какие ключи хранилища содержат живые записи.
func (h *PersistedHandler) Summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Persisted(r.Context()))
}

// Clear — "сбросить сохраненное состояние".
func (h *PersistedHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.service.ClearPersisted(r.Context())
	h.logger.Info("persisted dashboard state cleared by operator",
		zap.String("remote_addr", r.RemoteAddr))
	w.WriteHeader(http.StatusNoContent)
}
