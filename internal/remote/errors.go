package remote

import (
	"fmt"
	"time"

	"github.com/xela07ax/medsync-dashboard/internal/domain"
)

// ThrottleError — бэкенд ответил 429; RetryAfter взят из заголовка Retry-After.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// StatusError — неуспешный HTTP-статус.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Retryable: 5xx и 408 считаем временными, остальные 4xx — нет.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == 408
}

// FetchError — домен не удалось обновить (ошибка сети, таймаут, битый ответ).
// Не фатальна: движок сохраняет прежний снимок и помечает его устаревшим.
type FetchError struct {
	Domain domain.Domain
	Cause  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Domain, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }
