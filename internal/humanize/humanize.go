// Package humanize превращает разницу между двумя моментами времени в короткие
// подписи для дашборда ("5 min ago", "2h"). Все функции чистые: текущее время
// всегда передается явно.
package humanize

import (
	"fmt"
	"strings"
	"time"
)

// Never — подпись для отсутствующей (или нераспознанной) метки времени.
const Never = "Never"

// Now — подпись для событий младше минуты.
const Now = "now"

// DefaultSyncOffset повторяет период опроса внешнего агента.
const DefaultSyncOffset = 2 * time.Hour

// Ago возвращает "сколько прошло": now, "{m} min ago", "{h}h ago", "{d}d ago".
// Деление везде целочисленное, точность — минута.
func Ago(ts, now time.Time) string {
	if ts.IsZero() {
		return Never
	}

	minutes := int64(now.Sub(ts) / time.Minute)
	switch {
	case minutes < 1:
		// сюда же попадают метки из будущего (рассинхрон часов)
		return Now
	case minutes < 60:
		return fmt.Sprintf("%d min ago", minutes)
	case minutes < 24*60:
		return fmt.Sprintf("%dh ago", minutes/60)
	default:
		return fmt.Sprintf("%dd ago", minutes/(24*60))
	}
}

// Until возвращает "сколько осталось" до target: now, "{m}min", "{h}h".
func Until(target, now time.Time) string {
	if target.IsZero() {
		return Never
	}
	if !target.After(now) {
		return Now
	}

	minutes := int64(target.Sub(now) / time.Minute)
	if minutes < 60 {
		return fmt.Sprintf("%dmin", minutes)
	}
	return fmt.Sprintf("%dh", minutes/60)
}

// NextSyncEstimate оценивает время до следующей синхронизации агента
// как Until(last + offset). offset <= 0 означает DefaultSyncOffset.
func NextSyncEstimate(last time.Time, offset time.Duration, now time.Time) string {
	if last.IsZero() {
		return Never
	}
	if offset <= 0 {
		offset = DefaultSyncOffset
	}
	return Until(last.Add(offset), now)
}

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp разбирает метку времени из ответа API.
// Битая или пустая строка дает нулевое время, то есть "отсутствует".
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
