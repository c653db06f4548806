package state

import (
	"time"

	"github.com/xela07ax/medsync-dashboard/internal/domain"
)

// Layers — три сырых слоя одного домена. nil означает "слоя нет".
type Layers struct {
	Override  *domain.Override
	Persisted *domain.PersistedRecord
	Remote    *domain.RemoteSnapshot
}

// Resolve выбирает единственное значение домена по строгому приоритету
// Override > Persisted (не истекший) > Remote > None. Поля между слоями
// не смешиваются. Подписи возраста пересчитываются от now.
// Чистая функция: зависит только от аргументов.
func Resolve(d domain.Domain, l Layers, now time.Time) domain.EffectiveValue {
	ev := domain.EffectiveValue{
		Domain:     d,
		Source:     domain.SourceNone,
		ResolvedAt: now,
		Stale:      l.Remote != nil && l.Remote.Status == domain.FetchError,
	}

	switch {
	case l.Override != nil && l.Override.Payload != nil:
		ev.Source = domain.SourceOverride
		ev.Payload = l.Override.Payload.WithAges(now)
	case l.Persisted != nil && l.Persisted.Payload != nil && !l.Persisted.Expired(now):
		ev.Source = domain.SourcePersisted
		ev.Payload = l.Persisted.Payload.WithAges(now)
	case l.Remote != nil && l.Remote.Payload != nil:
		ev.Source = domain.SourceRemote
		ev.Payload = l.Remote.Payload.WithAges(now)
	}

	return ev
}
