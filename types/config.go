package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	Version     string             `yaml:"version" json:"version" validate:"required"`
	Server      *ServerConfig      `yaml:"server" json:"server"`
	Logger      *LoggerConfig      `yaml:"logger" json:"logger"`
	Storage     *StorageConfig     `yaml:"storage" json:"storage"`
	Scheduler   *SchedulerConfig   `yaml:"scheduler" json:"scheduler"`
	Executor    *ExecutorConfig    `yaml:"executor" json:"executor"`
	History     *HistoryConfig     `yaml:"history" json:"history"`
	Cache       *CacheConfig       `yaml:"cache" json:"cache"`
	Middlewares *MiddlewaresConfig `yaml:"middlewares" json:"middlewares"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Client      *ClientConfig      `yaml:"client" json:"client"`
	Health      *HealthConfig      `yaml:"health" json:"health"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http"`
	TLS  *TLSConfig  `yaml:"tls" json:"tls"`
}

type HTTPConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type TLSConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	CertFile      string   `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile       string   `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	AutoCert      bool     `yaml:"auto_cert" json:"auto_cert"`
	Domains       []string `yaml:"domains,omitempty" json:"domains,omitempty"`
	Email         string   `yaml:"email,omitempty" json:"email,omitempty"`
	CacheDir      string   `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
	ACMEDirectory string   `yaml:"acme_directory,omitempty" json:"acme_directory,omitempty"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type StorageConfig struct {
	Type string `yaml:"type" json:"type" validate:"required"`
	Path string `yaml:"path" json:"path"`
}

type SchedulerConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Timezone        string        `yaml:"timezone" json:"timezone"`
	PollInterval    time.Duration `yaml:"poll_interval" json:"poll_interval" validate:"min=0"`
	Workers         int           `yaml:"workers" json:"workers" validate:"min=0"`
	QueueSize       int           `yaml:"queue_size" json:"queue_size" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"min=0"`
}

type ExecutorConfig struct {
	Timeout        time.Duration         `yaml:"timeout" json:"timeout" validate:"min=0"`
	MaxOutputBytes int                   `yaml:"max_output_bytes" json:"max_output_bytes" validate:"min=0"`
	Task           *TaskConfig           `yaml:"task" json:"task"`
	Tasks          map[string]TaskConfig `yaml:"tasks" json:"tasks"`
}

type TaskConfig struct {
	Type    string `yaml:"type" json:"type"`
	Command string `yaml:"command,omitempty" json:"command,omitempty"`
	Service string `yaml:"service,omitempty" json:"service,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

type HistoryConfig struct {
	MaxEntries int           `yaml:"max_entries" json:"max_entries" validate:"min=0"`
	MaxAge     time.Duration `yaml:"max_age" json:"max_age" validate:"min=0"`
}

type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Type       string        `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config     interface{}   `yaml:"config" json:"config"`
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
}

type MiddlewaresConfig struct {
	Enabled     bool                  `yaml:"enabled" json:"enabled"`
	Logging     *MiddlewareItemConfig `yaml:"logging" json:"logging"`
	Cache       *MiddlewareItemConfig `yaml:"cache" json:"cache"`
	Recovery    *MiddlewareItemConfig `yaml:"recovery" json:"recovery"`
	Compression *MiddlewareItemConfig `yaml:"compression" json:"compression"`
	CORS        *MiddlewareItemConfig `yaml:"cors" json:"cors"`
	RateLimit   *MiddlewareItemConfig `yaml:"rate_limit" json:"rate_limit"`
	BodyLimit   *MiddlewareItemConfig `yaml:"body_limit" json:"body_limit"`
}

type MiddlewareItemConfig struct {
	Enabled bool                   `yaml:"enabled" json:"enabled"`
	Weight  int                    `yaml:"weight" json:"weight" validate:"min=0"`
	Params  map[string]interface{} `yaml:"params" json:"params"`
}

type CacheHandlerConfig struct {
	Enabled bool
	Key     string   `validate:"required,min=1"`
	TTL     int      `validate:"min=0"`
	Deps    []string `validate:"dive,min=1"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	BuildInfo string `json:"build_info"`
}

type MetricsConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Type    string            `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{}       `yaml:"config" json:"config"`
	Prefix  string            `yaml:"prefix" json:"prefix"`
	Labels  map[string]string `yaml:"labels" json:"labels"`
	HTTP    MetricsHTTPConfig `yaml:"http" json:"http"`
}

type MetricsHTTPConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type HealthConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type ClientConfig struct {
	Enabled            bool                            `yaml:"enabled" json:"enabled"`
	DefaultTimeout     time.Duration                   `yaml:"default_timeout" json:"default_timeout"`
	MaxIdleConnections int                             `yaml:"max_idle_connections" json:"max_idle_connections"`
	IdleConnTimeout    time.Duration                   `yaml:"idle_conn_timeout" json:"idle_conn_timeout"`
	DefaultRetries     int                             `yaml:"default_retries" json:"default_retries"`
	CircuitBreaker     *CircuitBreakerConfig           `yaml:"circuit_breaker" json:"circuit_breaker"`
	Services           map[string]*ServiceClientConfig `yaml:"services" json:"services"`
}

type ServiceClientConfig struct {
	Url string `yaml:"url" json:"url" validate:"required_with=Enabled"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests"`
}
