package domain

import "time"

// Source — слой, из которого взято итоговое значение.
type Source string

const (
	SourceNone      Source = "none"
	SourceOverride  Source = "override"
	SourcePersisted Source = "persisted"
	SourceRemote    Source = "remote"
)

type FetchStatus string

const (
	FetchOK    FetchStatus = "ok"
	FetchError FetchStatus = "error"
)

// Override — временное значение в памяти, выставленное действием оператора.
// Перезапуск процесса его не переживает.
type Override struct {
	Domain  Domain
	Payload Payload
	SetAt   time.Time
}

// PersistedRecord — значение с TTL, пережившее перезапуск.
type PersistedRecord struct {
	Domain     Domain
	Payload    Payload
	CapturedAt time.Time
	ExpiresAt  time.Time
}

// Expired: запись с ExpiresAt <= now считается отсутствующей.
func (r PersistedRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// RemoteSnapshot — последний результат опроса бэкенда.
// При ошибке Payload и FetchedAt сохраняются, меняются только статус и попытка.
type RemoteSnapshot struct {
	Domain      Domain
	Payload     Payload
	FetchedAt   time.Time // последняя успешная загрузка
	AttemptedAt time.Time
	Status      FetchStatus
	LastError   string
}

// EffectiveValue — то, что показывает UI. Никогда не хранится, всегда вычисляется.
type EffectiveValue struct {
	Domain     Domain    `json:"domain"`
	Payload    Payload   `json:"payload"`
	Source     Source    `json:"source"`
	ResolvedAt time.Time `json:"resolved_at"`
	// Stale — последняя попытка обновить remote-слой не удалась
	Stale bool `json:"stale"`
}
