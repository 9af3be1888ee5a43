package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации всей платформы.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Connector  ConnectorConfig  `mapstructure:"connector"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-серверов шлюза.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	EnginePort   int           `mapstructure:"engine_port"`  // /v1/execute для агентов
	ConsolePort  int           `mapstructure:"console_port"` // Админка (HITL, kill-switch)
	MetricsPort  int           `mapstructure:"metrics_port"` // Prometheus
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AuthConfig содержит пути к RSA ключам, настройки JWT и операторов админки.
// Пользователи объявляются прямо в конфиге: персистентность состояния
// шлюза вне процесса не предусмотрена.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console API
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	Users          []UserConfig  `mapstructure:"users"`
	PublicKey      []byte
	PrivateKey     []byte
}

// UserConfig — оператор админки из конфига (bcrypt-хэш, не пароль).
type UserConfig struct {
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"`
	Scopes       []string `mapstructure:"scopes"`
}

// GovernanceConfig — все пороги governance-пайплайна. Процессный объект:
// конструируется один раз, меняется только через Gatekeeper.SetConfig.
type GovernanceConfig struct {
	EnableCircuitBreaker  bool          `mapstructure:"enable_circuit_breaker"`
	MaxFailuresBeforeOpen int           `mapstructure:"max_failures_before_open"`
	CircuitResetTime      time.Duration `mapstructure:"circuit_reset_time"`

	EnableHolds                bool     `mapstructure:"enable_holds"`
	DateRangeHoldThresholdDays int      `mapstructure:"date_range_hold_threshold_days"`
	RowLimitHoldThreshold      int      `mapstructure:"row_limit_hold_threshold"`
	SensitiveTextPatterns      []string `mapstructure:"sensitive_text_patterns"`

	EnableAuditLogging bool          `mapstructure:"enable_audit_logging"`
	AuditRetention     time.Duration `mapstructure:"audit_retention"`
	HoldExpiration     time.Duration `mapstructure:"hold_expiration"`
}

// ConnectorConfig — надежностный контур вокруг внешнего SAP-коннектора.
type ConnectorConfig struct {
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	RetryAttempts uint          `mapstructure:"retry_attempts"`
	RateLimitRPS  float64       `mapstructure:"rate_limit_rps"`
	RateBurst     int           `mapstructure:"rate_burst"`

	// Настройки Circuit Breaker внешнего коннектора (gobreaker)
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_ENGINE_PORT=9000 перекроет server.engine_port
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

	// 6. Загрузка ключей из Файла ИЛИ из ENV
	// Сначала проверяем, не лежит ли сам PEM-ключ в ENV (для Docker/K8s)
	// Если нет — читаем файл по указанному пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.engine_port", 8080)
	v.SetDefault("server.console_port", 8000)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)

	// Пороги governance-пайплайна
	v.SetDefault("governance.enable_circuit_breaker", true)
	v.SetDefault("governance.max_failures_before_open", 5)
	v.SetDefault("governance.circuit_reset_time", 60*time.Second)
	v.SetDefault("governance.enable_holds", true)
	v.SetDefault("governance.date_range_hold_threshold_days", 90)
	v.SetDefault("governance.row_limit_hold_threshold", 500)
	v.SetDefault("governance.sensitive_text_patterns", []string{
		`(?i)ssn`,
		`(?i)social\s*security`,
		`(?i)credit\s*card`,
		`(?i)password`,
		`(?i)iban`,
	})
	v.SetDefault("governance.enable_audit_logging", true)
	v.SetDefault("governance.audit_retention", 24*time.Hour)
	v.SetDefault("governance.hold_expiration", 30*time.Minute)

	v.SetDefault("connector.call_timeout", 10*time.Second)
	v.SetDefault("connector.retry_attempts", 3)
	v.SetDefault("connector.rate_limit_rps", 100)
	v.SetDefault("connector.rate_burst", 20)
	v.SetDefault("connector.cb_max_requests", 3)
	v.SetDefault("connector.cb_interval", 5*time.Second)
	v.SetDefault("connector.cb_timeout", 30*time.Second)
}

// loadKeyResource — универсальный хелпер архитектора
func loadKeyResource(path string, envDataKey string) []byte {
	// Если ключ прилетел напрямую в ENV (Base64 или PEM)
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	// Иначе читаем файл по пути из конфига
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
