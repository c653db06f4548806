package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/medsync-dashboard/internal/domain"
)

// DashboardService Описываем, что нам нужно от движка
type DashboardService interface {
	Now() time.Time
	View() []domain.EffectiveValue
	Resolve(d domain.Domain) domain.EffectiveValue
	Refresh(d domain.Domain) bool
}

type DashboardHandler struct {
	service DashboardService
}

func NewDashboardHandler(s DashboardService) *DashboardHandler {
	return &DashboardHandler{service: s}
}

type dashboardResponse struct {
	Now     time.Time               `json:"now"`
	Domains []domain.EffectiveValue `json:"domains"`
}

// GetAll — все домены, сведенные на момент последнего тика часов.
func (h *DashboardHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dashboardResponse{
		Now:     h.service.Now(),
		Domains: h.service.View(),
	})
}

func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, ok := parseDomain(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.service.Resolve(d))
}

type refreshResponse struct {
	Domain  domain.Domain `json:"domain"`
	Started bool          `json:"started"`
}

// Refresh — ручное обновление. 409, если запрос по домену уже идет или домен не опрашивается.
func (h *DashboardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	d, ok := parseDomain(w, r)
	if !ok {
		return
	}

	started := h.service.Refresh(d)
	status := http.StatusAccepted
	if !started {
		status = http.StatusConflict
	}
	writeJSON(w, status, refreshResponse{Domain: d, Started: started})
}

func parseDomain(w http.ResponseWriter, r *http.Request) (domain.Domain, bool) {
	d, err := domain.ParseDomain(chi.URLParam(r, "domain"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrUnknownDomain) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return domain.Domain{}, false
	}
	return d, true
}
