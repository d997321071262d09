// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Ops           OpsConfig           `yaml:"ops" mapstructure:"ops"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Providers     ProvidersConfig     `yaml:"providers" mapstructure:"providers"`
	Storage       StorageConfig       `yaml:"storage" mapstructure:"storage"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// OpsConfig 运维端点配置（健康检查 / 指标）
type OpsConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// ProvidersConfig AI 提供商配置
type ProvidersConfig struct {
	// DefaultText 默认文本提供商名称 (openai/llama/nemotron3)
	DefaultText string `yaml:"default_text" mapstructure:"default_text"`
	// DefaultImage 默认图像提供商名称
	DefaultImage string `yaml:"default_image" mapstructure:"default_image"`

	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Llama     LlamaConfig     `yaml:"llama" mapstructure:"llama"`
	Nemotron3 Nemotron3Config `yaml:"nemotron3" mapstructure:"nemotron3"`

	// ImageRateLimit 图像生成请求限流（滑动窗口，跨 worker 实例共享）
	ImageRateLimit RateLimitConfig `yaml:"image_rate_limit" mapstructure:"image_rate_limit"`
}

// RateLimitConfig 滑动窗口限流配置
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Limit   int           `yaml:"limit" mapstructure:"limit"`
	Window  time.Duration `yaml:"window" mapstructure:"window"`
}

// OpenAIConfig OpenAI 提供商配置
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
	// ImageModel 图像生成模型
	ImageModel string `yaml:"image_model" mapstructure:"image_model"`
	// CostPer1KTokens 每千 Token 成本（计费近似值）
	CostPer1KTokens float64       `yaml:"cost_per_1k_tokens" mapstructure:"cost_per_1k_tokens"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	ImageTimeout    time.Duration `yaml:"image_timeout" mapstructure:"image_timeout"`
}

// LlamaConfig 自托管 Llama 推理服务配置
type LlamaConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Model   string        `yaml:"model" mapstructure:"model"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Nemotron3Config Nemotron 推理服务配置
type Nemotron3Config struct {
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Model   string        `yaml:"model" mapstructure:"model"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// StorageConfig 资产持久化存储配置
type StorageConfig struct {
	// Backend 存储后端 (http/filesystem)
	Backend string `yaml:"backend" mapstructure:"backend"`
	// Endpoint 对象存储写入端点
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	// PublicBaseURL 资产对外可读的基础 URL
	PublicBaseURL string `yaml:"public_base_url" mapstructure:"public_base_url"`
	// AccessToken 写入凭证
	AccessToken string `yaml:"access_token" mapstructure:"access_token"`
	// BasePath filesystem 后端的根目录
	BasePath string        `yaml:"base_path" mapstructure:"base_path"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen       int64         `yaml:"max_len" mapstructure:"max_len"`
	BlockTimeout time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	RetryLimit   int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	// NarrativeAttemptTimeout 叙事任务单次执行超时
	NarrativeAttemptTimeout time.Duration `yaml:"narrative_attempt_timeout" mapstructure:"narrative_attempt_timeout"`
	// ImageAttemptTimeout 图像任务单次执行超时（图像生成可能很慢）
	ImageAttemptTimeout time.Duration `yaml:"image_attempt_timeout" mapstructure:"image_attempt_timeout"`
}

// BackoffConfig 重试退避配置
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}
