package remote

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/xela07ax/medsync-dashboard/internal/domain"
)

// ErrMockFailure — искусственный сбой мок-бэкенда.
var ErrMockFailure = errors.New("service internal error")

// MockBackend — бэкенд в памяти для демо-режима (api.mock) и тестов.
type MockBackend struct {
	// Имитируем задержку MinLatency..MaxLatency
	MinLatency      time.Duration
	MaxLatency      time.Duration
	ProcessDuration time.Duration
	// FailRate — доля запросов, завершающихся ошибкой (0..1)
	FailRate float64

	mu      sync.Mutex
	now     func() time.Time
	clients []domain.ClientRow
	agent   domain.AgentStatusPayload
	alerts  []domain.Alert
	events  []domain.ActivityItem
}

var _ API = (*MockBackend)(nil)

func NewMockBackend(now func() time.Time) *MockBackend {
	if now == nil {
		now = time.Now
	}
	t := now()
	return &MockBackend{
		MinLatency:      50 * time.Millisecond,
		MaxLatency:      300 * time.Millisecond,
		ProcessDuration: 1500 * time.Millisecond,
		now:             now,
		clients: []domain.ClientRow{
			{ID: "clinic-1", Name: "Clínica Vida", Status: "active", Appointments: 41, Messages: 320, ConversionRate: 0.31, LastSync: t.Add(-95 * time.Minute)},
			{ID: "clinic-2", Name: "OdontoMais", Status: "active", Appointments: 18, Messages: 141, ConversionRate: 0.22, LastSync: t.Add(-3 * time.Hour)},
		},
		agent: domain.AgentStatusPayload{
			Status:          domain.AgentOnline,
			StatusText:      "Agent active",
			LastExecution:   t.Add(-95 * time.Minute),
			Performance:     95,
			ExecutionsToday: 6,
			SuccessRate:     0.97,
		},
		alerts: []domain.Alert{
			{ID: "alert-1", Severity: "warning", Title: "Sync delayed", Message: "OdontoMais has not synced for 3h", ClientID: "clinic-2", CreatedAt: t.Add(-40 * time.Minute)},
		},
		events: []domain.ActivityItem{
			{ID: "evt-1", Type: "appointment", Description: "Appointment booked", ClientName: "Clínica Vida", At: t.Add(-12 * time.Minute)},
			{ID: "evt-2", Type: "sync", Description: "Agent sync finished", ClientName: "Clínica Vida", At: t.Add(-95 * time.Minute)},
		},
	}
}

func (m *MockBackend) Overview(ctx context.Context) (domain.OverviewPayload, error) {
	if err := m.simulate(ctx, m.latency()); err != nil {
		return domain.OverviewPayload{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p := domain.OverviewPayload{TotalClients: len(m.clients)}
	var rate float64
	for _, c := range m.clients {
		if c.Status == "active" {
			p.ActiveClients++
		}
		p.AppointmentsToday += c.Appointments
		p.MessagesToday += c.Messages
		rate += c.ConversionRate
	}
	if len(m.clients) > 0 {
		p.ConversionRate = rate / float64(len(m.clients))
	}
	return p, nil
}

func (m *MockBackend) ClientPerformance(ctx context.Context) (domain.ClientPerformancePayload, error) {
	if err := m.simulate(ctx, m.latency()); err != nil {
		return domain.ClientPerformancePayload{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.ClientPerformancePayload{Clients: slices.Clone(m.clients)}, nil
}

func (m *MockBackend) AgentStatus(ctx context.Context) (domain.AgentStatusPayload, error) {
	if err := m.simulate(ctx, m.latency()); err != nil {
		return domain.AgentStatusPayload{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agent, nil
}

func (m *MockBackend) Alerts(ctx context.Context) (domain.AlertsPayload, error) {
	if err := m.simulate(ctx, m.latency()); err != nil {
		return domain.AlertsPayload{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.AlertsPayload{Alerts: slices.Clone(m.alerts)}, nil
}

func (m *MockBackend) RecentActivity(ctx context.Context, limit int) ([]domain.ActivityItem, error) {
	if err := m.simulate(ctx, m.latency()); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	items := slices.Clone(m.events)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// ProcessAll имитирует долгий прогон агента по всем клиентам.
func (m *MockBackend) ProcessAll(ctx context.Context) (ProcessResult, error) {
	if err := m.simulate(ctx, m.ProcessDuration); err != nil {
		return ProcessResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.now()
	for i := range m.clients {
		m.clients[i].LastSync = t
	}
	m.agent.LastExecution = t
	m.agent.ExecutionsToday++
	m.events = append([]domain.ActivityItem{{
		ID:          fmt.Sprintf("evt-%d", t.UnixNano()),
		Type:        "sync",
		Description: "Agent processed all clients",
		At:          t,
	}}, m.events...)

	return ProcessResult{Success: true, Processed: len(m.clients), TotalClients: len(m.clients)}, nil
}

// SetClients заменяет список клиентов (тесты, сиды).
func (m *MockBackend) SetClients(clients []domain.ClientRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients = slices.Clone(clients)
}

func (m *MockBackend) latency() time.Duration {
	if m.MaxLatency <= m.MinLatency {
		return m.MinLatency
	}
	return m.MinLatency + rand.N(m.MaxLatency-m.MinLatency)
}

func (m *MockBackend) simulate(ctx context.Context, d time.Duration) error {
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if m.FailRate > 0 && rand.Float64() < m.FailRate {
		return ErrMockFailure
	}
	return nil
}
