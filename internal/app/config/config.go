package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App struct {
		Env  string
		Port string
		Host string
	}

	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	WhatsApp struct {
		DebugLevel  string
		StorePrefix string
	}

	Logging struct {
		Level          string
		Output         string
		ConsoleFormat  string
		FileFormat     string
		FilePath       string
		FileMaxSize    int
		FileMaxBackups int
		FileMaxAge     int
		FileCompress   bool
		ConsoleColors  bool

		AppName     string
		Environment string
		Version     string
		ServiceName string

		EnableCaller     bool
		EnableStackTrace bool
		EnableSampling   bool
		SampleRate       int
		EnableMetrics    bool
	}

	CORS struct {
		AllowedOrigins string
	}

	// Runtime holds every knob spec.md §6 names as a recognized
	// environment variable for the connection runtime itself.
	Runtime struct {
		InstanceURL                string
		MaxConnections             int
		MaxConnectionsPerInstance  int
		HealthCheckInterval        time.Duration
		SessionCleanupInterval     time.Duration
		InstanceHeartbeatInterval  time.Duration
		InstanceTimeout            time.Duration
		SessionTimeout             time.Duration
		LoadBalanceStrategy        string
		AutoReconnect              bool
		MaxReconnectAttempts       int
		ReconnectDelay             time.Duration
		PriorityCountries          []string
		ReconciliationInterval     time.Duration
	}

	SessionStore struct {
		StorageType      string // local | cloud | hybrid
		StoragePath      string
		BackupInterval   time.Duration
		EncryptionKey    string
		Bucket           string
		S3Region         string
		S3Endpoint       string
		S3AccessKey      string
		S3SecretKey      string
	}

	Proxy struct {
		Enabled         bool
		VendorBaseURL   string
		VendorAPIKey    string
		StrictMode      bool
		AvailabilityTTL time.Duration
	}
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.App.Env = getEnv("APP_ENV", "development")
	cfg.App.Port = getEnv("APP_PORT", "8080")
	cfg.App.Host = getEnv("APP_HOST", "0.0.0.0")

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnv("DB_PORT", "5432")
	cfg.Database.User = getEnv("DB_USER", "waconnect")
	cfg.Database.Password = getEnv("DB_PASSWORD", "waconnect")
	cfg.Database.Name = getEnv("DB_NAME", "waconnect")
	cfg.Database.SSLMode = getEnv("DB_SSL_MODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)

	cfg.WhatsApp.DebugLevel = getEnv("WA_DEBUG_LEVEL", "INFO")
	cfg.WhatsApp.StorePrefix = getEnv("WA_STORE_PREFIX", "waconnect")

	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")
	cfg.Logging.Output = getEnv("LOG_OUTPUT", "dual")
	cfg.Logging.ConsoleFormat = getEnv("LOG_CONSOLE_FORMAT", "console")
	cfg.Logging.FileFormat = getEnv("LOG_FILE_FORMAT", "json")
	cfg.Logging.FilePath = getEnv("LOG_FILE_PATH", "logs/waconnect.log")
	cfg.Logging.FileMaxSize = getEnvAsInt("LOG_FILE_MAX_SIZE", 100)
	cfg.Logging.FileMaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", 3)
	cfg.Logging.FileMaxAge = getEnvAsInt("LOG_FILE_MAX_AGE", 28)
	cfg.Logging.FileCompress = getEnvAsBool("LOG_FILE_COMPRESS", true)
	cfg.Logging.ConsoleColors = getEnvAsBool("LOG_CONSOLE_COLORS", true)

	cfg.Logging.AppName = getEnv("APP_NAME", "waconnect")
	cfg.Logging.Environment = getEnv("APP_ENV", "development")
	cfg.Logging.Version = getEnv("APP_VERSION", "1.0.0")
	cfg.Logging.ServiceName = getEnv("SERVICE_NAME", "waconnect")

	cfg.Logging.EnableCaller = getEnvAsBool("LOG_ENABLE_CALLER", true)
	cfg.Logging.EnableStackTrace = getEnvAsBool("LOG_ENABLE_STACK_TRACE", false)
	cfg.Logging.EnableSampling = getEnvAsBool("LOG_ENABLE_SAMPLING", false)
	cfg.Logging.SampleRate = getEnvAsInt("LOG_SAMPLE_RATE", 10)
	cfg.Logging.EnableMetrics = getEnvAsBool("LOG_ENABLE_METRICS", false)

	cfg.CORS.AllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", "*")

	cfg.Runtime.InstanceURL = getEnv("INSTANCE_URL", "http://localhost:8080")
	cfg.Runtime.MaxConnections = getEnvAsInt("MAX_CONNECTIONS", 1000)
	cfg.Runtime.MaxConnectionsPerInstance = getEnvAsInt("MAX_CONNECTIONS_PER_INSTANCE", 250)
	cfg.Runtime.HealthCheckInterval = getEnvAsDuration("HEALTH_CHECK_INTERVAL", 30*time.Second)
	cfg.Runtime.SessionCleanupInterval = getEnvAsDuration("SESSION_CLEANUP_INTERVAL", 1*time.Minute)
	cfg.Runtime.InstanceHeartbeatInterval = getEnvAsDuration("INSTANCE_HEARTBEAT_INTERVAL", 15*time.Second)
	cfg.Runtime.InstanceTimeout = getEnvAsDuration("INSTANCE_TIMEOUT", 45*time.Second)
	cfg.Runtime.SessionTimeout = getEnvAsDuration("SESSION_TIMEOUT", 90*time.Second)
	cfg.Runtime.LoadBalanceStrategy = getEnv("LOAD_BALANCE_STRATEGY", "least_connections")
	cfg.Runtime.AutoReconnect = getEnvAsBool("AUTO_RECONNECT", true)
	cfg.Runtime.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 5)
	cfg.Runtime.ReconnectDelay = getEnvAsDuration("RECONNECT_DELAY", 5*time.Second)
	cfg.Runtime.PriorityCountries = getEnvAsList("PRIORITY_COUNTRIES", []string{"US", "GB", "DE"})
	cfg.Runtime.ReconciliationInterval = getEnvAsDuration("RECONCILIATION_INTERVAL", 2*time.Minute)

	cfg.SessionStore.StorageType = getEnv("SESSION_STORAGE_TYPE", "local")
	cfg.SessionStore.StoragePath = getEnv("SESSION_STORAGE_PATH", "./data/sessions")
	cfg.SessionStore.BackupInterval = getEnvAsDuration("SESSION_BACKUP_INTERVAL", 5*time.Minute)
	cfg.SessionStore.EncryptionKey = getEnv("SESSION_ENCRYPTION_KEY", "")
	cfg.SessionStore.Bucket = getEnv("STORAGE_BUCKET", "waconnect-sessions")
	cfg.SessionStore.S3Region = getEnv("STORAGE_S3_REGION", "us-east-1")
	cfg.SessionStore.S3Endpoint = getEnv("STORAGE_S3_ENDPOINT", "")
	cfg.SessionStore.S3AccessKey = getEnv("STORAGE_S3_ACCESS_KEY", "")
	cfg.SessionStore.S3SecretKey = getEnv("STORAGE_S3_SECRET_KEY", "")

	cfg.Proxy.Enabled = getEnvAsBool("USE_PROXY", false)
	cfg.Proxy.VendorBaseURL = getEnv("PROXY_VENDOR_BASE_URL", "")
	cfg.Proxy.VendorAPIKey = getEnv("PROXY_VENDOR_API_KEY", "")
	cfg.Proxy.StrictMode = getEnvAsBool("PROXY_STRICT_MODE", true)
	cfg.Proxy.AvailabilityTTL = getEnvAsDuration("PROXY_AVAILABILITY_TTL", 1*time.Hour)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func (c *Config) GetDatabaseDSN() string {
	return "postgres://" + c.Database.User + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + c.Database.Port +
		"/" + c.Database.Name + "?sslmode=" + c.Database.SSLMode
}

// Implementação da interface ConfigProvider para integração com o logger
func (c *Config) GetLogLevel() string         { return c.Logging.Level }
func (c *Config) GetLogOutput() string        { return c.Logging.Output }
func (c *Config) GetLogConsoleFormat() string { return c.Logging.ConsoleFormat }
func (c *Config) GetLogFileFormat() string    { return c.Logging.FileFormat }
func (c *Config) GetLogFilePath() string      { return c.Logging.FilePath }
func (c *Config) GetLogFileMaxSize() int      { return c.Logging.FileMaxSize }
func (c *Config) GetLogFileMaxBackups() int   { return c.Logging.FileMaxBackups }
func (c *Config) GetLogFileMaxAge() int       { return c.Logging.FileMaxAge }
func (c *Config) GetLogFileCompress() bool    { return c.Logging.FileCompress }
func (c *Config) GetLogConsoleColors() bool   { return c.Logging.ConsoleColors }

func (c *Config) GetLogAppName() string     { return c.Logging.AppName }
func (c *Config) GetLogEnvironment() string { return c.Logging.Environment }
func (c *Config) GetLogVersion() string     { return c.Logging.Version }
func (c *Config) GetLogServiceName() string { return c.Logging.ServiceName }

func (c *Config) GetLogEnableCaller() bool     { return c.Logging.EnableCaller }
func (c *Config) GetLogEnableStackTrace() bool { return c.Logging.EnableStackTrace }
func (c *Config) GetLogEnableSampling() bool   { return c.Logging.EnableSampling }
func (c *Config) GetLogSampleRate() int        { return c.Logging.SampleRate }
func (c *Config) GetLogEnableMetrics() bool    { return c.Logging.EnableMetrics }

// ApplyDevelopmentLoggingConfig aplica configurações de logging para desenvolvimento
func (c *Config) ApplyDevelopmentLoggingConfig() {
	c.Logging.Level = "debug"
	c.Logging.Environment = "development"
	c.Logging.ConsoleColors = true
	c.Logging.EnableCaller = true
	c.Logging.EnableStackTrace = true
	c.Logging.EnableSampling = false
	c.Logging.SampleRate = 10
	c.Logging.EnableMetrics = false
}

// ApplyProductionLoggingConfig aplica configurações de logging para produção
func (c *Config) ApplyProductionLoggingConfig() {
	c.Logging.Level = "info"
	c.Logging.Environment = "production"
	c.Logging.ConsoleColors = false
	c.Logging.EnableCaller = false
	c.Logging.EnableStackTrace = false
	c.Logging.EnableSampling = true
	c.Logging.SampleRate = 100
	c.Logging.EnableMetrics = false
}

// ApplyTestingLoggingConfig aplica configurações de logging para testes
func (c *Config) ApplyTestingLoggingConfig() {
	c.Logging.Level = "warn"
	c.Logging.Environment = "testing"
	c.Logging.Output = "stdout"
	c.Logging.ConsoleColors = false
	c.Logging.EnableCaller = false
	c.Logging.EnableStackTrace = false
	c.Logging.EnableSampling = false
	c.Logging.EnableMetrics = false
}
