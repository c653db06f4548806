package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/xela07ax/medsync-dashboard/internal/action"
	"github.com/xela07ax/medsync-dashboard/internal/engine"
	"github.com/xela07ax/medsync-dashboard/internal/journal"
	"go.uber.org/zap"
)

type AgentService interface {
	ProcessAll(ctx context.Context) (string, error)
	ActionStatus() (action.Status, *action.Notice)
	History(ctx context.Context, limit int) ([]journal.Entry, error)
}

type AgentHandler struct {
	service AgentService
	logger  *zap.Logger
}

func NewAgentHandler(s AgentService, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{service: s, logger: logger}
}

type processAllResponse struct {
	RunID string `json:"run_id"`
}

// ProcessAll запускает агента и отвечает сразу; итог — через GetAction.
func (h *AgentHandler) ProcessAll(w http.ResponseWriter, r *http.Request) {
	runID, err := h.service.ProcessAll(r.Context())
	switch {
	case errors.Is(err, action.ErrActionPending):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, engine.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.logger.Error("process-all trigger failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start action")
		return
	}

	writeJSON(w, http.StatusAccepted, processAllResponse{RunID: runID})
}

type actionResponse struct {
	Status action.Status  `json:"status"`
	Notice *action.Notice `json:"notice"`
}

func (h *AgentHandler) GetAction(w http.ResponseWriter, r *http.Request) {
	st, notice := h.service.ActionStatus()
	writeJSON(w, http.StatusOK, actionResponse{Status: st, Notice: notice})
}

// History — журнал запусков, ?limit=N (по умолчанию 20, максимум 100).
func (h *AgentHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 100)
	}

	entries, err := h.service.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to read action history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
