package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Security      SecurityConfig
	Monitor       MonitorConfig
	Exchange      ExchangeConfig
	Notifications NotificationConfig
	Alarm         AlarmConfig
	Logging       LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Origins для CORS и websocket; пусто - разрешены все (websocket) и только без Origin (CORS)
	AllowedOrigins []string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig - Redis для pub/sub между инстансами и счётчиков rate limit.
// Пустой Addr - всё в памяти процесса.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled - Redis настроен
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// KafkaConfig - публикация админских событий.
// Пустой список брокеров - события только логируются.
type KafkaConfig struct {
	Brokers       []string
	AdminTopic    string
	NotifyTimeout time.Duration
}

// Enabled - Kafka настроена
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// EncryptionKey - ключ AES-256 для API ключей бирж, ровно 32 байта
	EncryptionKey string
	// AdminTokenHash - bcrypt хеш токена админского API; пусто - API выключен
	AdminTokenHash string
}

// MonitorConfig - опрос, сверка и напоминания о продлении
type MonitorConfig struct {
	PollInterval      time.Duration
	PollTimeout       time.Duration
	MaxInFlight       int
	RefreshInterval   time.Duration
	KillSwitchTimeout time.Duration

	ReconcileInterval    time.Duration
	ReconcileWindowDays  int
	ReconcileParallelism int

	RenewalInterval    time.Duration
	RenewalLeadTime    time.Duration
	RenewalDedupWindow time.Duration
}

// ExchangeConfig - клиент Binance
type ExchangeConfig struct {
	FuturesURL        string
	DeliveryURL       string
	RecvWindow        int64
	RequestsPerSecond float64
	Burst             float64
	MaxRetries        int
	RequestTimeout    time.Duration
	RealizedRefresh   time.Duration
}

// NotificationConfig - журнал уведомлений
type NotificationConfig struct {
	Retention       time.Duration
	CleanupInterval time.Duration
}

// AlarmConfig - вывод сирены.
// PCMOutput - файл или FIFO для 16-bit mono PCM (например, пайп в aplay);
// пусто - сирена только меняет состояние и рассылается в дашборды.
type AlarmConfig struct {
	PCMOutput  string
	SampleRate int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "riskwatch"),
			User:            getEnv("DB_USER", "user"),
			Password:        getEnv("DB_PASSWORD", "password"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvAsSlice("KAFKA_BROKERS", nil),
			AdminTopic:    getEnv("KAFKA_ADMIN_TOPIC", "riskwatch.admin"),
			NotifyTimeout: getEnvAsDuration("ADMIN_NOTIFY_TIMEOUT", 5*time.Second),
		},
		Security: SecurityConfig{
			EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
			AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),
		},
		Monitor: MonitorConfig{
			PollInterval:      getEnvAsDuration("POLL_INTERVAL", 5*time.Second),
			PollTimeout:       getEnvAsDuration("POLL_TIMEOUT", 10*time.Second),
			MaxInFlight:       getEnvAsInt("POLL_MAX_IN_FLIGHT", 2),
			RefreshInterval:   getEnvAsDuration("ACCOUNT_REFRESH_INTERVAL", time.Minute),
			KillSwitchTimeout: getEnvAsDuration("KILLSWITCH_TIMEOUT", 10*time.Second),

			ReconcileInterval:    getEnvAsDuration("RECONCILE_INTERVAL", 24*time.Hour),
			ReconcileWindowDays:  getEnvAsInt("RECONCILE_WINDOW_DAYS", 30),
			ReconcileParallelism: getEnvAsInt("RECONCILE_PARALLELISM", 4),

			RenewalInterval:    getEnvAsDuration("RENEWAL_INTERVAL", time.Hour),
			RenewalLeadTime:    getEnvAsDuration("RENEWAL_LEAD_TIME", 72*time.Hour),
			RenewalDedupWindow: getEnvAsDuration("RENEWAL_DEDUP_WINDOW", 24*time.Hour),
		},
		Exchange: ExchangeConfig{
			FuturesURL:        getEnv("BINANCE_FUTURES_URL", "https://fapi.binance.com"),
			DeliveryURL:       getEnv("BINANCE_DELIVERY_URL", "https://dapi.binance.com"),
			RecvWindow:        int64(getEnvAsInt("BINANCE_RECV_WINDOW", 5000)),
			RequestsPerSecond: getEnvAsFloat("BINANCE_RPS", 10),
			Burst:             getEnvAsFloat("BINANCE_BURST", 20),
			MaxRetries:        getEnvAsInt("BINANCE_MAX_RETRIES", 3),
			RequestTimeout:    getEnvAsDuration("BINANCE_REQUEST_TIMEOUT", 15*time.Second),
			RealizedRefresh:   getEnvAsDuration("BINANCE_REALIZED_REFRESH", time.Minute),
		},
		Notifications: NotificationConfig{
			Retention:       getEnvAsDuration("NOTIFICATION_RETENTION", 30*24*time.Hour),
			CleanupInterval: getEnvAsDuration("NOTIFICATION_CLEANUP_INTERVAL", 6*time.Hour),
		},
		Alarm: AlarmConfig{
			PCMOutput:  getEnv("ALARM_PCM_OUTPUT", ""),
			SampleRate: getEnvAsInt("ALARM_SAMPLE_RATE", 44100),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", ""),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования API ключей бирж
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting API keys")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	if h := c.Security.AdminTokenHash; h != "" && !strings.HasPrefix(h, "$2") {
		return fmt.Errorf("ADMIN_TOKEN_HASH must be a bcrypt hash")
	}

	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE are required when USE_HTTPS is set")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Redis.DB < 0 {
		return fmt.Errorf("REDIS_DB cannot be negative, got %d", c.Redis.DB)
	}

	// Опрос не чаще раза в секунду: лимиты биржи на аккаунт
	if c.Monitor.PollInterval < time.Second {
		return fmt.Errorf("POLL_INTERVAL must be at least 1s, got %v", c.Monitor.PollInterval)
	}

	if c.Monitor.PollTimeout <= 0 {
		return fmt.Errorf("POLL_TIMEOUT must be positive, got %v", c.Monitor.PollTimeout)
	}

	if c.Monitor.MaxInFlight < 1 {
		return fmt.Errorf("POLL_MAX_IN_FLIGHT must be at least 1, got %d", c.Monitor.MaxInFlight)
	}

	if c.Monitor.ReconcileWindowDays < 1 || c.Monitor.ReconcileWindowDays > 365 {
		return fmt.Errorf("RECONCILE_WINDOW_DAYS must be between 1 and 365, got %d", c.Monitor.ReconcileWindowDays)
	}

	if c.Monitor.ReconcileParallelism < 1 {
		return fmt.Errorf("RECONCILE_PARALLELISM must be at least 1, got %d", c.Monitor.ReconcileParallelism)
	}

	if c.Monitor.ReconcileInterval <= 0 || c.Monitor.RenewalInterval <= 0 || c.Monitor.RefreshInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL, RENEWAL_INTERVAL and ACCOUNT_REFRESH_INTERVAL must be positive")
	}

	// Валидация retry параметров
	if c.Exchange.MaxRetries < 1 || c.Exchange.MaxRetries > 10 {
		return fmt.Errorf("BINANCE_MAX_RETRIES must be between 1 and 10, got %d", c.Exchange.MaxRetries)
	}

	if c.Exchange.RequestsPerSecond <= 0 || c.Exchange.Burst < 1 {
		return fmt.Errorf("BINANCE_RPS must be positive and BINANCE_BURST at least 1")
	}

	if c.Exchange.RealizedRefresh <= 0 {
		return fmt.Errorf("BINANCE_REALIZED_REFRESH must be positive, got %v", c.Exchange.RealizedRefresh)
	}

	if c.Kafka.NotifyTimeout <= 0 {
		return fmt.Errorf("ADMIN_NOTIFY_TIMEOUT must be positive, got %v", c.Kafka.NotifyTimeout)
	}

	if c.Alarm.SampleRate < 8000 || c.Alarm.SampleRate > 192000 {
		return fmt.Errorf("ALARM_SAMPLE_RATE must be between 8000 and 192000, got %d", c.Alarm.SampleRate)
	}

	if c.Notifications.Retention < 24*time.Hour {
		return fmt.Errorf("NOTIFICATION_RETENTION must be at least 24h, got %v", c.Notifications.Retention)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice читает список через запятую, пустые элементы отбрасываются
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
