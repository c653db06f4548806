package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации сервиса дашборда.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	API         APIConfig         `mapstructure:"api"`
	Refresh     RefreshConfig     `mapstructure:"refresh"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Action      ActionConfig      `mapstructure:"action"`
	Logger      LoggerConfig      `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (хранилище состояния и Pub/Sub).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// APIConfig — бэкенд платформы клиник и защита вызовов к нему.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"` // передается как есть
	Mock    bool   `mapstructure:"mock"`  // встроенный mock вместо HTTP

	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts uint          `mapstructure:"retry_attempts"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`

	// Настройки Circuit Breaker
	CBMaxRequests      uint32        `mapstructure:"cb_max_requests"`
	CBInterval         time.Duration `mapstructure:"cb_interval"`
	CBTimeout          time.Duration `mapstructure:"cb_timeout"`
	CBFailureThreshold uint32        `mapstructure:"cb_failure_threshold"`
}

// RefreshConfig — каденция часов и интервалы опроса доменов.
type RefreshConfig struct {
	Tick              time.Duration `mapstructure:"tick"`
	Overview          time.Duration `mapstructure:"overview"`
	ClientPerformance time.Duration `mapstructure:"client_performance"`
	AgentStatus       time.Duration `mapstructure:"agent_status"`
	Alerts            time.Duration `mapstructure:"alerts"`
	ActivityLimit     int           `mapstructure:"activity_limit"`
}

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// PersistenceConfig — носитель и сроки хранения записей.
type PersistenceConfig struct {
	Backend       string                   `mapstructure:"backend"` // memory, redis, postgres
	DefaultTTL    time.Duration            `mapstructure:"default_ttl"`
	TTL           map[string]time.Duration `mapstructure:"ttl"` // по виду домена: agent-status, client-sync, ...
	PurgeInterval time.Duration            `mapstructure:"purge_interval"`
}

// TTLFor — срок хранения для вида домена.
func (p PersistenceConfig) TTLFor(kind string) time.Duration {
	if ttl, ok := p.TTL[kind]; ok && ttl > 0 {
		return ttl
	}
	return p.DefaultTTL
}

type ActionConfig struct {
	RefetchDelay   time.Duration `mapstructure:"refetch_delay"`
	NoticeDuration time.Duration `mapstructure:"notice_duration"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// Явный путь к файлу (если передан) заменяет поиск по каталогам.
func LoadConfig(path ...string) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	if len(path) > 0 && path[0] != "" {
		v.SetConfigFile(path[0])
	} else {
		v.SetConfigName("config")    // имя файла без расширения
		v.SetConfigType("yaml")      // формат
		v.AddConfigPath(".")         // ищем в корне
		v.AddConfigPath("./configs") // и в папке с конфигами
	}

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: API_TOKEN=... перекроет api.token
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет сочетания настроек, которые нельзя выразить дефолтами.
func (c *Config) Validate() error {
	switch c.Persistence.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.Database.URL == "" {
			return errors.New("config: database.url is required for postgres persistence")
		}
	default:
		return fmt.Errorf("config: unknown persistence backend %q", c.Persistence.Backend)
	}

	if !c.API.Mock && c.API.BaseURL == "" {
		return errors.New("config: api.base_url is required unless api.mock is set")
	}
	if c.Refresh.Tick <= 0 {
		return errors.New("config: refresh.tick must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("api.base_url", "")
	v.SetDefault("api.token", "")
	v.SetDefault("api.mock", false)
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("api.retry_attempts", 2)
	v.SetDefault("api.rate_per_second", 20)
	v.SetDefault("api.burst", 10)
	v.SetDefault("api.cb_max_requests", 3)
	v.SetDefault("api.cb_interval", 5*time.Second)
	v.SetDefault("api.cb_timeout", 30*time.Second)
	v.SetDefault("api.cb_failure_threshold", 5)

	v.SetDefault("refresh.tick", time.Minute)
	v.SetDefault("refresh.overview", 10*time.Minute)
	v.SetDefault("refresh.client_performance", 10*time.Minute)
	v.SetDefault("refresh.agent_status", 10*time.Second)
	v.SetDefault("refresh.alerts", time.Minute)
	v.SetDefault("refresh.activity_limit", 10)

	v.SetDefault("persistence.backend", BackendRedis)
	v.SetDefault("persistence.default_ttl", 24*time.Hour)
	v.SetDefault("persistence.purge_interval", time.Hour)

	v.SetDefault("action.refetch_delay", 2*time.Second)
	v.SetDefault("action.notice_duration", 5*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
