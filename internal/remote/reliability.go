package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/medsync-dashboard/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReliabilityConfig — настройки защиты вызовов бэкенда.
type ReliabilityConfig struct {
	Timeout       time.Duration // на одну попытку
	RetryAttempts uint          // только для идемпотентных запросов
	RatePerSecond float64
	Burst         int

	// Настройки Circuit Breaker
	CBMaxRequests      uint32
	CBInterval         time.Duration
	CBTimeout          time.Duration
	CBFailureThreshold uint32
}

func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Timeout:            10 * time.Second,
		RetryAttempts:      2,
		RatePerSecond:      20,
		Burst:              10,
		CBMaxRequests:      3,
		CBInterval:         5 * time.Second,
		CBTimeout:          30 * time.Second,
		CBFailureThreshold: 5,
	}
}

// ReliableDoer выполняет HTTP-запросы через лимитер, предохранитель и ретраи.
// Ретраи — внутри одного вызова; на интервал опроса они не влияют.
type ReliableDoer struct {
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     ReliabilityConfig
}

func NewReliableDoer(client *http.Client, cfg ReliabilityConfig, logger *zap.Logger, m *metrics.Metrics) *ReliableDoer {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 1
	}

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "clinic-api",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если ошибок подряд больше порога — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > cfg.CBFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	// Настройка лимитера; 0 — без ограничения
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(cfg.Burst, 1))
	}

	return &ReliableDoer{
		client:  client,
		cb:      cb,
		limiter: limiter,
		cfg:     cfg,
	}
}

// Do отправляет запрос и возвращает тело успешного (2xx) ответа.
func (d *ReliableDoer) Do(ctx context.Context, method, url string, header http.Header, body []byte, idempotent bool) ([]byte, error) {
	// 1. Rate Limiter
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	attempts := d.cfg.RetryAttempts
	if !idempotent {
		attempts = 1
	}

	var finalData []byte

	// 2. Circuit Breaker
	cbResult, err := d.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(attempts),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если бэкенд вернул ThrottleError (считали Retry-After заголовок)
				var tErr *ThrottleError
				if errors.As(err, &tErr) && tErr.RetryAfter > 0 {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
			defer cancel()

			var callErr error
			finalData, callErr = d.once(tCtx, method, url, header, body)

			var tErr *ThrottleError
			var sErr *StatusError
			if !errors.As(callErr, &tErr) && errors.As(callErr, &sErr) && !sErr.Retryable() {
				return retry.Unrecoverable(callErr)
			}
			return callErr
		})

		return finalData, retryErr
	})

	if err != nil {
		return nil, err
	}

	return cbResult.([]byte), nil
}

func (d *ReliableDoer) once(ctx context.Context, method, url string, header http.Header, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ThrottleError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Cause:      &StatusError{Method: method, Path: req.URL.Path, Code: resp.StatusCode, Body: snippet(data)},
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Method: method, Path: req.URL.Path, Code: resp.StatusCode, Body: snippet(data)}
	}
	return data, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func snippet(data []byte) string {
	const limit = 256
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
