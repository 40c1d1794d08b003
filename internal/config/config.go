// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	AdminIDsRaw      string  `envconfig:"ADMIN_IDS"`
	AdminIDs         []int64 `envconfig:"-"` // заполним вручную
	TelegramBotToken string  `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"botuser"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"karma_bot"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`
	// Сколько раз повторяем транзакцию при serialization failure / deadlock
	DBTxMaxAttempts int `envconfig:"DB_TX_MAX_ATTEMPTS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- Bot runtime ---
	// Сколько апдейтов обрабатываем параллельно. Иначе "go на каждый апдейт" = утечка памяти при флуде.
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Таймаут long polling (секунды)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Admin ---
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH"`
	AdminSessionTTL   time.Duration `envconfig:"ADMIN_SESSION_TTL" default:"24h"`

	// --- Karma ---
	KarmaBurstWindow    time.Duration `envconfig:"KARMA_BURST_WINDOW" default:"15m"`
	KarmaBurstThreshold int           `envconfig:"KARMA_BURST_THRESHOLD" default:"10"`
	KarmaDailyWindow    time.Duration `envconfig:"KARMA_DAILY_WINDOW" default:"24h"`
	KarmaDailyThreshold int           `envconfig:"KARMA_DAILY_THRESHOLD" default:"50"`
	KarmaPenalty        int64         `envconfig:"KARMA_PENALTY" default:"10"`
	KarmaBanDuration    time.Duration `envconfig:"KARMA_BAN_DURATION" default:"24h"`
	KarmaCooldown       time.Duration `envconfig:"KARMA_COOLDOWN" default:"5s"`
	KarmaEventRetention time.Duration `envconfig:"KARMA_EVENT_RETENTION" default:"720h"`
	KarmaTopLimit       int           `envconfig:"KARMA_TOP_LIMIT" default:"10"`
	KarmaHistoryLimit   int           `envconfig:"KARMA_HISTORY_LIMIT" default:"10"`

	// --- Delivery ---
	DeliveryBatchSize       int           `envconfig:"DELIVERY_BATCH_SIZE" default:"30"`
	DeliveryBatchDelay      time.Duration `envconfig:"DELIVERY_BATCH_DELAY" default:"1s"`
	DeliverySendTimeout     time.Duration `envconfig:"DELIVERY_SEND_TIMEOUT" default:"10s"`
	DeliveryBreakerFailures uint32        `envconfig:"DELIVERY_BREAKER_FAILURES" default:"5"`
	DeliveryBreakerTimeout  time.Duration `envconfig:"DELIVERY_BREAKER_TIMEOUT" default:"30s"`

	// --- Metrics ---
	// Пустая строка — не поднимаем /metrics
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Feature Flags ---
	FeatureTransfersEnabled bool `envconfig:"FEATURE_TRANSFERS_ENABLED" default:"true"`
	FeatureAdminEnabled     bool `envconfig:"FEATURE_ADMIN_ENABLED" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

func (c *Config) Validate() error {
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.DBTxMaxAttempts <= 0 {
		return fmt.Errorf("DB_TX_MAX_ATTEMPTS должен быть > 0")
	}
	if c.KarmaBurstThreshold <= 0 || c.KarmaDailyThreshold <= 0 {
		return fmt.Errorf("KARMA_BURST_THRESHOLD и KARMA_DAILY_THRESHOLD должны быть > 0")
	}
	if c.KarmaBurstWindow <= 0 || c.KarmaDailyWindow <= 0 || c.KarmaBanDuration <= 0 {
		return fmt.Errorf("окна и длительность бана кармы должны быть > 0")
	}
	if c.KarmaPenalty < 0 {
		return fmt.Errorf("KARMA_PENALTY не может быть отрицательным")
	}
	if c.KarmaEventRetention < c.KarmaDailyWindow {
		return fmt.Errorf("KARMA_EVENT_RETENTION должен быть не меньше KARMA_DAILY_WINDOW")
	}
	if c.DeliveryBatchSize <= 0 {
		return fmt.Errorf("DELIVERY_BATCH_SIZE должен быть > 0")
	}
	if c.DeliveryBatchDelay < 0 {
		return fmt.Errorf("DELIVERY_BATCH_DELAY не может быть отрицательным")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS и RATE_LIMIT_WINDOW должны быть > 0")
	}
	if c.FeatureAdminEnabled && c.AdminPasswordHash == "" {
		return fmt.Errorf("ADMIN_PASSWORD_HASH обязателен при FEATURE_ADMIN_ENABLED=true")
	}
	return nil
}

// IsAdmin проверяет, входит ли Telegram ID в список ADMIN_IDS.
func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
