package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Fetch: результаты опроса бэкенда по доменам
	FetchTotal    *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	// Сколько тиков пропущено из-за незавершенного запроса того же домена
	FetchSkipped *prometheus.CounterVec

	// Resolution: из какого слоя взято показанное значение
	ResolutionsTotal *prometheus.CounterVec

	// Persistence: ошибки хранилища (всегда деградируют в "нет записи")
	PersistenceErrors *prometheus.CounterVec

	// Actions: оптимистичные действия оператора
	ActionTotal    *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		FetchTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_fetch_total",
			Help: "Total number of completed remote fetches by domain and status.",
		}, []string{"domain", "status"}),

		FetchDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dashboard_fetch_duration_seconds",
			Help:    "Histogram of remote fetch latencies.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"domain"}),

		FetchSkipped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_fetch_skipped_total",
			Help: "Fetches skipped because one for the same domain was still in flight.",
		}, []string{"domain"}),

		ResolutionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_resolutions_total",
			Help: "Resolved values by domain and winning source.",
		}, []string{"domain", "source"}),

		PersistenceErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_persistence_errors_total",
			Help: "Persistence failures degraded to absent/no-op.",
		}, []string{"op"}), // get, set, delete, keys, decode

		ActionTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_actions_total",
			Help: "Operator actions by outcome.",
		}, []string{"action", "result"}), // succeeded, failed, rejected

		ActionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dashboard_action_duration_seconds",
			Help:    "Time from action trigger to completion.",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"action"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "dashboard_circuit_breaker_state",
			Help: "Current state of the remote API circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),
	}
}
