package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "medsync"
)

// Ключи состояния дашборда: medsync:state:{domain-key}
const (
	RedisKeyStatePrefix = RedisNamespace + ":state:"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanStateInvalidation — в канал публикуется ключ домена после записи/удаления,
	// чтобы другие сессии перечитали persisted-слой.
	RedisChanStateInvalidation = RedisNamespace + ":state:invalidate"
)

// StateKey Генератор полного ключа Redis для логического ключа домена
func StateKey(domainKey string) string {
	return RedisKeyStatePrefix + domainKey
}
