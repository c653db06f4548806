package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/xela07ax/medsync-dashboard/internal/humanize"
)

// Payload — закрытое объединение типов: по одному типу на Kind.
// WithAges возвращает копию с пересчитанными от now подписями возраста,
// поэтому прошедшее время продолжает расти даже после перезапуска.
type Payload interface {
	Kind() Kind
	WithAges(now time.Time) Payload
	isPayload()
}

// ActivityItem — запись ленты последних событий.
type ActivityItem struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	ClientName  string    `json:"client_name,omitempty"`
	At          time.Time `json:"at,omitzero"`
	AgeLabel    string    `json:"age_label"`
}

// OverviewPayload — агрегаты главного экрана.
type OverviewPayload struct {
	TotalClients      int            `json:"total_clients"`
	ActiveClients     int            `json:"active_clients"`
	AppointmentsToday int            `json:"appointments_today"`
	MessagesToday     int            `json:"messages_today"`
	ConversionRate    float64        `json:"conversion_rate"`
	RecentActivity    []ActivityItem `json:"recent_activity"`
}

func (OverviewPayload) Kind() Kind { return KindOverview }
func (OverviewPayload) isPayload() {}

func (p OverviewPayload) WithAges(now time.Time) Payload {
	p.RecentActivity = slices.Clone(p.RecentActivity)
	for i := range p.RecentActivity {
		p.RecentActivity[i].AgeLabel = humanize.Ago(p.RecentActivity[i].At, now)
	}
	return p
}

// ClientRow — строка таблицы эффективности клиентов.
type ClientRow struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	Appointments   int       `json:"appointments"`
	Messages       int       `json:"messages"`
	ConversionRate float64   `json:"conversion_rate"`
	LastSync       time.Time `json:"last_sync,omitzero"`
	LastSyncLabel  string    `json:"last_sync_label"`
}

type ClientPerformancePayload struct {
	Clients []ClientRow `json:"clients"`
}

func (ClientPerformancePayload) Kind() Kind { return KindClientPerformance }
func (ClientPerformancePayload) isPayload() {}

func (p ClientPerformancePayload) WithAges(now time.Time) Payload {
	p.Clients = slices.Clone(p.Clients)
	for i := range p.Clients {
		p.Clients[i].LastSyncLabel = humanize.Ago(p.Clients[i].LastSync, now)
	}
	return p
}

// Agent statuses as reported by the backend.
const (
	AgentOnline     = "online"
	AgentOffline    = "offline"
	AgentProcessing = "processing"
	AgentError      = "error"
)

// AgentStatusPayload — состояние агента синхронизации.
type AgentStatusPayload struct {
	Status          string    `json:"status"`
	StatusText      string    `json:"status_text"`
	LastExecution   time.Time `json:"last_execution,omitzero"`
	Performance     int       `json:"performance"` // 0-100
	NextSync        time.Time `json:"next_sync,omitzero"`
	ExecutionsToday int       `json:"executions_today"`
	SuccessRate     float64   `json:"success_rate"`
	Processing      bool      `json:"processing"`

	LastSyncLabel string `json:"last_sync_label"`
	NextSyncLabel string `json:"next_sync_label"`
}

func (AgentStatusPayload) Kind() Kind { return KindAgentStatus }
func (AgentStatusPayload) isPayload() {}

func (p AgentStatusPayload) WithAges(now time.Time) Payload {
	p.LastSyncLabel = humanize.Ago(p.LastExecution, now)
	if !p.NextSync.IsZero() {
		p.NextSyncLabel = humanize.Until(p.NextSync, now)
	} else {
		p.NextSyncLabel = humanize.NextSyncEstimate(p.LastExecution, humanize.DefaultSyncOffset, now)
	}
	return p
}

// LastUpdatePayload — сводка "последнее обновление" в шапке дашборда.
type LastUpdatePayload struct {
	At           time.Time `json:"at,omitzero"`
	Processed    int       `json:"processed"`
	TotalClients int       `json:"total_clients"`
	Processing   bool      `json:"processing"`
	Label        string    `json:"label"`
}

func (LastUpdatePayload) Kind() Kind { return KindLastUpdate }
func (LastUpdatePayload) isPayload() {}

func (p LastUpdatePayload) WithAges(now time.Time) Payload {
	p.Label = humanize.Ago(p.At, now)
	return p
}

type Alert struct {
	ID        string    `json:"id"`
	Severity  string    `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	ClientID  string    `json:"client_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	AgeLabel  string    `json:"age_label"`
}

type AlertsPayload struct {
	Alerts []Alert `json:"alerts"`
}

func (AlertsPayload) Kind() Kind { return KindAlerts }
func (AlertsPayload) isPayload() {}

func (p AlertsPayload) WithAges(now time.Time) Payload {
	p.Alerts = slices.Clone(p.Alerts)
	for i := range p.Alerts {
		p.Alerts[i].AgeLabel = humanize.Ago(p.Alerts[i].CreatedAt, now)
	}
	return p
}

// ClientSyncPayload — время синхронизации одного клиента.
type ClientSyncPayload struct {
	ClientID      string    `json:"client_id"`
	ClientName    string    `json:"client_name,omitempty"`
	LastSync      time.Time `json:"last_sync,omitzero"`
	LastSyncLabel string    `json:"last_sync_label"`
	NextSyncLabel string    `json:"next_sync_label"`
}

func (ClientSyncPayload) Kind() Kind { return KindClientSync }
func (ClientSyncPayload) isPayload() {}

func (p ClientSyncPayload) WithAges(now time.Time) Payload {
	p.LastSyncLabel = humanize.Ago(p.LastSync, now)
	p.NextSyncLabel = humanize.NextSyncEstimate(p.LastSync, humanize.DefaultSyncOffset, now)
	return p
}

// DecodePayload восстанавливает payload из JSON по виду домена.
func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	switch kind {
	case KindOverview:
		return decodeAs[OverviewPayload](raw)
	case KindClientPerformance:
		return decodeAs[ClientPerformancePayload](raw)
	case KindAgentStatus:
		return decodeAs[AgentStatusPayload](raw)
	case KindLastUpdate:
		return decodeAs[LastUpdatePayload](raw)
	case KindAlerts:
		return decodeAs[AlertsPayload](raw)
	case KindClientSync:
		return decodeAs[ClientSyncPayload](raw)
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownDomain, kind)
	}
}

func decodeAs[T Payload](raw []byte) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", p.Kind(), err)
	}
	return p, nil
}
