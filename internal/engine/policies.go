package engine

import (
	"context"
	"time"

	"github.com/xela07ax/medsync-dashboard/internal/domain"
	"github.com/xela07ax/medsync-dashboard/internal/remote"
	"github.com/xela07ax/medsync-dashboard/internal/scheduler"
)

// Интервалы опроса по умолчанию.
const (
	DefaultOverviewInterval    = 10 * time.Minute
	DefaultPerformanceInterval = 10 * time.Minute
	DefaultAgentStatusInterval = 10 * time.Second
	DefaultAlertsInterval      = time.Minute
	DefaultActivityLimit       = 10
)

// Intervals — RefreshPolicy по видам доменов. Нулевое значение — дефолт.
type Intervals struct {
	Overview          time.Duration
	ClientPerformance time.Duration
	AgentStatus       time.Duration
	Alerts            time.Duration
}

func (iv Intervals) withDefaults() Intervals {
	if iv.Overview <= 0 {
		iv.Overview = DefaultOverviewInterval
	}
	if iv.ClientPerformance <= 0 {
		iv.ClientPerformance = DefaultPerformanceInterval
	}
	if iv.AgentStatus <= 0 {
		iv.AgentStatus = DefaultAgentStatusInterval
	}
	if iv.Alerts <= 0 {
		iv.Alerts = DefaultAlertsInterval
	}
	return iv
}

// Policies строит политики опроса поверх API. Ошибки оборачиваются в remote.FetchError.
// Лента последних событий подтягивается вместе с overview.
func Policies(api remote.API, iv Intervals, activityLimit int) []scheduler.Policy {
	iv = iv.withDefaults()
	if activityLimit <= 0 {
		activityLimit = DefaultActivityLimit
	}

	return []scheduler.Policy{
		{
			Domain:   domain.Overview,
			Interval: iv.Overview,
			Fetch: func(ctx context.Context) (domain.Payload, error) {
				p, err := api.Overview(ctx)
				if err != nil {
					return nil, &remote.FetchError{Domain: domain.Overview, Cause: err}
				}
				items, err := api.RecentActivity(ctx, activityLimit)
				if err != nil {
					return nil, &remote.FetchError{Domain: domain.Overview, Cause: err}
				}
				p.RecentActivity = items
				return p, nil
			},
		},
		{
			Domain:   domain.ClientPerformance,
			Interval: iv.ClientPerformance,
			Fetch:    fetch(domain.ClientPerformance, api.ClientPerformance),
		},
		{
			Domain:   domain.AgentStatus,
			Interval: iv.AgentStatus,
			Fetch:    fetch(domain.AgentStatus, api.AgentStatus),
		},
		{
			Domain:   domain.Alerts,
			Interval: iv.Alerts,
			Fetch:    fetch(domain.Alerts, api.Alerts),
		},
	}
}

func fetch[T domain.Payload](d domain.Domain, call func(context.Context) (T, error)) scheduler.FetchFunc {
	return func(ctx context.Context) (domain.Payload, error) {
		p, err := call(ctx)
		if err != nil {
			return nil, &remote.FetchError{Domain: d, Cause: err}
		}
		return p, nil
	}
}
