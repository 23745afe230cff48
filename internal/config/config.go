package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"drinkshop-backend/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const envPrefix = "DRINKSHOP"

type PromoConfig struct {
	Code        string `mapstructure:"code"`
	PercentOff  int64  `mapstructure:"percent_off"`
	AmountOff   int64  `mapstructure:"amount_off"`
	MinSubtotal int64  `mapstructure:"min_subtotal"`
	MaxDiscount int64  `mapstructure:"max_discount"`
}

type Config struct {
	Env               string        `mapstructure:"env"`
	Port              int           `mapstructure:"port"`
	JWTSecret         string        `mapstructure:"jwt_secret"`
	AccessTTL         time.Duration `mapstructure:"access_ttl"`
	RefreshTTL        time.Duration `mapstructure:"refresh_ttl"`
	LogJSON           bool          `mapstructure:"log_json"`
	DatabaseURL       string        `mapstructure:"database_url"`
	RedisAddr         string        `mapstructure:"redis_addr"`
	RedisPassword     string        `mapstructure:"redis_password"`
	RedisDB           int           `mapstructure:"redis_db"`
	KafkaBrokers      []string      `mapstructure:"kafka_brokers"`
	KafkaTopic        string        `mapstructure:"kafka_topic"`
	MediaDir          string        `mapstructure:"media_dir"`
	PublicBaseURL     string        `mapstructure:"public_base_url"`
	BankBIN           string        `mapstructure:"bank_bin"`
	BankAccount       string        `mapstructure:"bank_account"`
	BankAccountName   string        `mapstructure:"bank_account_name"`
	BankWebhookSecret string        `mapstructure:"bank_webhook_secret"`
	PaymentWindow     time.Duration `mapstructure:"payment_window"`
	CheckoutWindow    time.Duration `mapstructure:"checkout_window"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	DeliveryFee       int64         `mapstructure:"delivery_fee"`
	Timezone          string        `mapstructure:"timezone"`
	AdminPhone        string        `mapstructure:"admin_phone"`
	AdminPassword     string        `mapstructure:"admin_password"`
	Promos            []PromoConfig `mapstructure:"promos"`
}

func Default() Config {
	return Config{
		Env:            "dev",
		Port:           5000,
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     7 * 24 * time.Hour,
		LogJSON:        true,
		KafkaTopic:     "order-events",
		MediaDir:       "./media",
		PaymentWindow:  30 * time.Second,
		CheckoutWindow: 2 * time.Minute,
		SweepInterval:  5 * time.Second,
		DeliveryFee:    15000,
		Timezone:       "Asia/Ho_Chi_Minh",
	}
}

// Load layers defaults, the optional config file and DRINKSHOP_* environment
// variables, later sources winning. An empty path falls back to ./.env when
// it exists. File keys carry no prefix (PORT=5000 or port: 5000). The result
// is not validated; callers apply their overrides and then call Validate.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path == "" {
		if _, err := os.Stat(".env"); err == nil {
			path = ".env"
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if strings.HasSuffix(path, ".env") {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c.KafkaBrokers = splitList(c.KafkaBrokers)
	return c, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("env", d.Env)
	v.SetDefault("port", d.Port)
	v.SetDefault("jwt_secret", d.JWTSecret)
	v.SetDefault("access_ttl", d.AccessTTL)
	v.SetDefault("refresh_ttl", d.RefreshTTL)
	v.SetDefault("log_json", d.LogJSON)
	v.SetDefault("database_url", d.DatabaseURL)
	v.SetDefault("redis_addr", d.RedisAddr)
	v.SetDefault("redis_password", d.RedisPassword)
	v.SetDefault("redis_db", d.RedisDB)
	v.SetDefault("kafka_brokers", "")
	v.SetDefault("kafka_topic", d.KafkaTopic)
	v.SetDefault("media_dir", d.MediaDir)
	v.SetDefault("public_base_url", d.PublicBaseURL)
	v.SetDefault("bank_bin", d.BankBIN)
	v.SetDefault("bank_account", d.BankAccount)
	v.SetDefault("bank_account_name", d.BankAccountName)
	v.SetDefault("bank_webhook_secret", d.BankWebhookSecret)
	v.SetDefault("payment_window", d.PaymentWindow)
	v.SetDefault("checkout_window", d.CheckoutWindow)
	v.SetDefault("sweep_interval", d.SweepInterval)
	v.SetDefault("delivery_fee", d.DeliveryFee)
	v.SetDefault("timezone", d.Timezone)
	v.SetDefault("admin_phone", d.AdminPhone)
	v.SetDefault("admin_password", d.AdminPassword)
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

const devSecret = "dev-insecure-jwt-secret"

// Validate rejects settings the service cannot run with. In dev an empty JWT
// secret is replaced by a fixed insecure one.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.JWTSecret == "" {
		if c.Env != "dev" {
			return errors.New("jwt_secret is required outside dev")
		}
		c.JWTSecret = devSecret
	}
	if c.PaymentWindow <= 0 || c.CheckoutWindow <= 0 {
		return errors.New("payment_window and checkout_window must be positive")
	}
	if c.DeliveryFee < 0 {
		return errors.New("delivery_fee must not be negative")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	for _, p := range c.Promos {
		if strings.TrimSpace(p.Code) == "" || p.PercentOff < 0 || p.PercentOff > 100 || p.AmountOff < 0 {
			return fmt.Errorf("invalid promo %q", p.Code)
		}
	}
	return nil
}

func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) DeliveryFeeAmount() decimal.Decimal {
	return decimal.NewFromInt(c.DeliveryFee)
}

func (c Config) DomainPromos() []domain.Promo {
	out := make([]domain.Promo, 0, len(c.Promos))
	for _, p := range c.Promos {
		out = append(out, domain.Promo{
			Code:        p.Code,
			PercentOff:  decimal.NewFromInt(p.PercentOff),
			AmountOff:   decimal.NewFromInt(p.AmountOff),
			MinSubtotal: decimal.NewFromInt(p.MinSubtotal),
			MaxDiscount: decimal.NewFromInt(p.MaxDiscount),
		})
	}
	return out
}

func (c Config) BankQREnabled() bool {
	return c.BankBIN != "" && c.BankAccount != ""
}
