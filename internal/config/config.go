package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/joao-fontenele/giftshop/internal/domain"
)

type Config struct {
	HTTPPort string `mapstructure:"http_port"`

	PostgresURL      string   `mapstructure:"postgres_url"`
	KafkaBrokers     []string `mapstructure:"kafka_brokers"`
	OrderEventsTopic string   `mapstructure:"order_events_topic"`
	RedisAddr        string   `mapstructure:"redis_addr"`
	RedisPassword    string   `mapstructure:"redis_password"`
	RedisDB          int      `mapstructure:"redis_db"`

	RazorpayBaseURL       string `mapstructure:"razorpay_base_url"`
	RazorpayKeyID         string `mapstructure:"razorpay_key_id"`
	RazorpayKeySecret     string `mapstructure:"razorpay_key_secret"`
	RazorpayWebhookSecret string `mapstructure:"razorpay_webhook_secret"`
	Currency              string `mapstructure:"currency"`

	EmailServiceURL string `mapstructure:"email_service_url"`
	OpsEmail        string `mapstructure:"ops_email"`
	SiteURL         string `mapstructure:"site_url"`
	StorefrontURL   string `mapstructure:"storefront_url"`
	JWTSecret       string `mapstructure:"jwt_secret"`

	DeliveryCharge        string        `mapstructure:"delivery_charge"`
	FreeDeliveryThreshold string        `mapstructure:"free_delivery_threshold"`
	DeliveryBonusRate     string        `mapstructure:"delivery_bonus_rate"`
	DeliveryBonusCap      string        `mapstructure:"delivery_bonus_cap"`
	FeedbackDelay         time.Duration `mapstructure:"feedback_delay"`
	CartAbandonAfter      time.Duration `mapstructure:"cart_abandon_after"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
	SchedulerPollInterval time.Duration `mapstructure:"scheduler_poll_interval"`

	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogOutput string `mapstructure:"log_output"`
	LogFile   string `mapstructure:"log_file"`

	SMTPAddr     string `mapstructure:"smtp_addr"`
	SMTPFrom     string `mapstructure:"smtp_from"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`

	OTelEnabled  bool   `mapstructure:"otel_enabled"`
	OTelEndpoint string `mapstructure:"otel_endpoint"`
}

var defaults = map[string]any{
	"http_port":               "8081",
	"postgres_url":            "",
	"kafka_brokers":           []string{},
	"order_events_topic":      "order.events",
	"redis_addr":              "localhost:6379",
	"redis_password":          "",
	"redis_db":                0,
	"razorpay_base_url":       "https://api.razorpay.com/v1",
	"razorpay_key_id":         "",
	"razorpay_key_secret":     "",
	"razorpay_webhook_secret": "",
	"currency":                "INR",
	"email_service_url":       "http://localhost:8084",
	"ops_email":               "orders@example.com",
	"site_url":                "http://localhost:8080",
	"storefront_url":          "http://localhost:8081",
	"jwt_secret":              "",
	"delivery_charge":         "50",
	"free_delivery_threshold": "0",
	"delivery_bonus_rate":     "0.10",
	"delivery_bonus_cap":      "500",
	"feedback_delay":          "24h",
	"cart_abandon_after":      "6h",
	"sweep_interval":          "15m",
	"scheduler_poll_interval": "30s",
	"rate_limit_rps":          20.0,
	"rate_limit_burst":        40,
	"log_level":               "info",
	"log_format":              "json",
	"log_output":              "stdout",
	"log_file":                "logs/giftshop.log",
	"smtp_addr":               "",
	"smtp_from":               "no-reply@example.com",
	"smtp_username":           "",
	"smtp_password":           "",
	"otel_enabled":            false,
	"otel_endpoint":           "localhost:4317",
}

// Load reads configuration from defaults, an optional .env file, an optional
// YAML file named by CONFIG_FILE and the environment, in increasing priority.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &cfg, nil
}

// Settings converts the business parameters into the value object the order
// service and worker depend on.
func (c *Config) Settings() (domain.Settings, error) {
	parse := func(name, value string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s: %w", name, err)
		}
		return d, nil
	}

	charge, err := parse("delivery_charge", c.DeliveryCharge)
	if err != nil {
		return domain.Settings{}, err
	}
	threshold, err := parse("free_delivery_threshold", c.FreeDeliveryThreshold)
	if err != nil {
		return domain.Settings{}, err
	}
	rate, err := parse("delivery_bonus_rate", c.DeliveryBonusRate)
	if err != nil {
		return domain.Settings{}, err
	}
	bonusCap, err := parse("delivery_bonus_cap", c.DeliveryBonusCap)
	if err != nil {
		return domain.Settings{}, err
	}

	return domain.Settings{
		Currency:              c.Currency,
		DeliveryCharge:        charge,
		FreeDeliveryThreshold: threshold,
		DeliveryBonusRate:     rate,
		DeliveryBonusCap:      bonusCap,
		FeedbackDelay:         c.FeedbackDelay,
		CartAbandonAfter:      c.CartAbandonAfter,
		OpsEmail:              c.OpsEmail,
		SiteURL:               c.SiteURL,
	}, nil
}
