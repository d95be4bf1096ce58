package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	MySQL      MySQLConfig      `mapstructure:"mysql"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Log        LogConfig        `mapstructure:"log"`
	Generation GenerationConfig `mapstructure:"generation"`
	Payment    PaymentConfig    `mapstructure:"payment"`
	Business   BusinessConfig   `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int   `mapstructure:"port"`
	WorkerID int64 `mapstructure:"worker_id"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	CreditEvents string `mapstructure:"credit_events"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GenerationConfig 文本生成服务（OpenAI 兼容接口）
type GenerationConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PaymentConfig Stripe Checkout 配置
type PaymentConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	Currency      string `mapstructure:"currency"`
	AmountCents   int64  `mapstructure:"amount_cents"`
	ProductName   string `mapstructure:"product_name"`
	SuccessURL    string `mapstructure:"success_url"`
	CancelURL     string `mapstructure:"cancel_url"`
}

type RateLimitConfig struct {
	Max    int64         `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

type BusinessConfig struct {
	PackageCredits         int64           `mapstructure:"package_credits"`
	CheckoutTimeoutMinutes int             `mapstructure:"checkout_timeout_minutes"`
	MaxRetryCount          int             `mapstructure:"max_retry_count"`
	EventRetentionDays     int             `mapstructure:"event_retention_days"`
	RateLimit              RateLimitConfig `mapstructure:"rate_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("kafka.topic.credit_events", "credit_events")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.base_url", "https://api.openai.com/v1")
	v.SetDefault("generation.model", "gpt-3.5-turbo")
	v.SetDefault("generation.max_tokens", 300)
	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("generation.timeout", 30*time.Second)
	v.SetDefault("payment.secret_key", "")
	v.SetDefault("payment.webhook_secret", "")
	v.SetDefault("payment.currency", "eur")
	v.SetDefault("payment.amount_cents", 500)
	v.SetDefault("payment.product_name", "50 credits")
	v.SetDefault("business.package_credits", 50)
	v.SetDefault("business.checkout_timeout_minutes", 24*60)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.event_retention_days", 90)
	v.SetDefault("business.rate_limit.max", 5)
	v.SetDefault("business.rate_limit.window", 24*time.Hour)
}

// LoadConfig 加载配置文件，环境变量优先（如 PAYMENT_SECRET_KEY）
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 兼容第三方惯用的环境变量名
	_ = v.BindEnv("generation.api_key", "GENERATION_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("payment.secret_key", "PAYMENT_SECRET_KEY", "STRIPE_SECRET_KEY")
	_ = v.BindEnv("payment.webhook_secret", "PAYMENT_WEBHOOK_SECRET", "STRIPE_WEBHOOK_SECRET")

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验业务配置
func (c *Config) Validate() error {
	if c.Business.PackageCredits <= 0 {
		return errors.New("business.package_credits must be positive")
	}
	if c.Payment.AmountCents <= 0 {
		return errors.New("payment.amount_cents must be positive")
	}
	if c.Generation.MaxTokens <= 0 {
		return errors.New("generation.max_tokens must be positive")
	}
	if c.Generation.Timeout <= 0 {
		return errors.New("generation.timeout must be positive")
	}
	if c.Business.RateLimit.Max > 0 && c.Business.RateLimit.Window <= 0 {
		return errors.New("business.rate_limit.window must be positive when max is set")
	}
	return nil
}

// CheckoutTimeout 结账会话的有效期
func (c *Config) CheckoutTimeout() time.Duration {
	return time.Duration(c.Business.CheckoutTimeoutMinutes) * time.Minute
}
