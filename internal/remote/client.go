// Package remote — клиент REST API платформы клиник. Читает только те поля,
// которые нужны движку дашборда, и сразу переводит их в типы domain.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xela07ax/medsync-dashboard/internal/domain"
	"github.com/xela07ax/medsync-dashboard/internal/humanize"
)

// API — удаленные операции, которые потребляет движок.
type API interface {
	Overview(ctx context.Context) (domain.OverviewPayload, error)
	ClientPerformance(ctx context.Context) (domain.ClientPerformancePayload, error)
	AgentStatus(ctx context.Context) (domain.AgentStatusPayload, error)
	Alerts(ctx context.Context) (domain.AlertsPayload, error)
	RecentActivity(ctx context.Context, limit int) ([]domain.ActivityItem, error)
	ProcessAll(ctx context.Context) (ProcessResult, error)
}

// ProcessResult — ответ POST agent/process-all.
type ProcessResult struct {
	Success      bool   `json:"success"`
	Processed    int    `json:"processed"`
	TotalClients int    `json:"totalClients"`
	Message      string `json:"message,omitempty"`
}

type Client struct {
	baseURL string
	token   string
	doer    *ReliableDoer
}

var _ API = (*Client)(nil)

// NewClient. token передается как есть в Authorization: Bearer (выпуск и
// обновление токенов — забота внешней системы).
func NewClient(baseURL, token string, doer *ReliableDoer) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: invalid base url %q", baseURL)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		doer:    doer,
	}, nil
}

// --- wire-форматы ---

type overviewWire struct {
	TotalClients      int     `json:"totalClients"`
	ActiveClients     int     `json:"activeClients"`
	AppointmentsToday int     `json:"appointmentsToday"`
	MessagesToday     int     `json:"messagesToday"`
	ConversionRate    float64 `json:"conversionRate"`
}

type clientWire struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Status         string  `json:"status"`
	Appointments   int     `json:"appointments"`
	Messages       int     `json:"messages"`
	ConversionRate float64 `json:"conversionRate"`
	LastSync       string  `json:"lastSync"`
}

type agentStatusWire struct {
	Status          string   `json:"status"`
	StatusText      string   `json:"statusText"`
	LastExecution   string   `json:"lastExecution"`
	Performance     int      `json:"performance"`
	NextSync        string   `json:"nextSync"`
	ExecutionsToday *int     `json:"executionsToday"`
	SuccessRate     *float64 `json:"successRate"`
}

type alertWire struct {
	ID        string `json:"id"`
	Severity  string `json:"severity"`
	Type      string `json:"type"` // старое имя поля severity
	Title     string `json:"title"`
	Message   string `json:"message"`
	ClientID  string `json:"clientId"`
	CreatedAt string `json:"createdAt"`
}

type activityWire struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	ClientName  string `json:"clientName"`
	Timestamp   string `json:"timestamp"`
}

func (c *Client) Overview(ctx context.Context) (domain.OverviewPayload, error) {
	var w overviewWire
	if err := c.get(ctx, "/overview", nil, &w); err != nil {
		return domain.OverviewPayload{}, err
	}
	return domain.OverviewPayload{
		TotalClients:      w.TotalClients,
		ActiveClients:     w.ActiveClients,
		AppointmentsToday: w.AppointmentsToday,
		MessagesToday:     w.MessagesToday,
		ConversionRate:    w.ConversionRate,
	}, nil
}

func (c *Client) ClientPerformance(ctx context.Context) (domain.ClientPerformancePayload, error) {
	var w []clientWire
	if err := c.get(ctx, "/client-performance", nil, &w); err != nil {
		return domain.ClientPerformancePayload{}, err
	}

	p := domain.ClientPerformancePayload{Clients: make([]domain.ClientRow, 0, len(w))}
	for _, cl := range w {
		p.Clients = append(p.Clients, domain.ClientRow{
			ID:             cl.ID,
			Name:           cl.Name,
			Status:         cl.Status,
			Appointments:   cl.Appointments,
			Messages:       cl.Messages,
			ConversionRate: cl.ConversionRate,
			LastSync:       humanize.ParseTimestamp(cl.LastSync),
		})
	}
	return p, nil
}

func (c *Client) AgentStatus(ctx context.Context) (domain.AgentStatusPayload, error) {
	var w agentStatusWire
	if err := c.get(ctx, "/agent/status", nil, &w); err != nil {
		return domain.AgentStatusPayload{}, err
	}

	p := domain.AgentStatusPayload{
		Status:        w.Status,
		StatusText:    w.StatusText,
		LastExecution: humanize.ParseTimestamp(w.LastExecution),
		Performance:   min(max(w.Performance, 0), 100),
		NextSync:      humanize.ParseTimestamp(w.NextSync),
		Processing:    w.Status == domain.AgentProcessing,
	}
	if w.ExecutionsToday != nil {
		p.ExecutionsToday = *w.ExecutionsToday
	}
	if w.SuccessRate != nil {
		p.SuccessRate = *w.SuccessRate
	}
	return p, nil
}

func (c *Client) Alerts(ctx context.Context) (domain.AlertsPayload, error) {
	var w []alertWire
	if err := c.get(ctx, "/alerts", nil, &w); err != nil {
		return domain.AlertsPayload{}, err
	}

	p := domain.AlertsPayload{Alerts: make([]domain.Alert, 0, len(w))}
	for _, a := range w {
		severity := a.Severity
		if severity == "" {
			severity = a.Type
		}
		p.Alerts = append(p.Alerts, domain.Alert{
			ID:        a.ID,
			Severity:  severity,
			Title:     a.Title,
			Message:   a.Message,
			ClientID:  a.ClientID,
			CreatedAt: humanize.ParseTimestamp(a.CreatedAt),
		})
	}
	return p, nil
}

func (c *Client) RecentActivity(ctx context.Context, limit int) ([]domain.ActivityItem, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var w []activityWire
	if err := c.get(ctx, "/recent-activity", q, &w); err != nil {
		return nil, err
	}

	items := make([]domain.ActivityItem, 0, len(w))
	for _, a := range w {
		items = append(items, domain.ActivityItem{
			ID:          a.ID,
			Type:        a.Type,
			Description: a.Description,
			ClientName:  a.ClientName,
			At:          humanize.ParseTimestamp(a.Timestamp),
		})
	}
	return items, nil
}

// ProcessAll запускает агента по всем клиентам. Запрос не повторяется.
func (c *Client) ProcessAll(ctx context.Context) (ProcessResult, error) {
	var res ProcessResult
	data, err := c.doer.Do(ctx, http.MethodPost, c.baseURL+"/agent/process-all", c.header(), []byte(`{}`), false)
	if err != nil {
		return ProcessResult{}, err
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return ProcessResult{}, fmt.Errorf("decode process-all response: %w", err)
	}
	return res, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	data, err := c.doer.Do(ctx, http.MethodGet, u, c.header(), nil, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	h.Set("X-Request-ID", uuid.New().String())
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}
