// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"spin-campaign-service/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Campaign  CampaignConfig  `mapstructure:"campaign"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds Redis connection configuration for the fast layer.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds request authentication configuration.
type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	HMACSecret   string        `mapstructure:"hmac_secret"`
	AllowedDrift time.Duration `mapstructure:"allowed_drift"`
}

// RateLimitConfig bounds spin request volume per (user, ip, day).
type RateLimitConfig struct {
	Max    int64         `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

// CampaignConfig holds the static campaign definition: rewards, weights,
// activation window, per-user daily limit and the fallback reward.
// Read-only to the allocation engine.
type CampaignConfig struct {
	ID                string         `mapstructure:"id"`
	Timezone          string         `mapstructure:"timezone"`
	ActivationStart   string         `mapstructure:"activation_start"`
	ActivationEnd     string         `mapstructure:"activation_end"`
	PerUserDailyLimit int            `mapstructure:"per_user_daily_limit"`
	FallbackRewardID  string         `mapstructure:"fallback_reward_id"`
	Rewards           []model.Reward `mapstructure:"rewards"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Addr returns the Redis host:port address.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Location returns the campaign's fixed timezone.
func (c *CampaignConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Window returns the campaign activation window.
func (c *CampaignConfig) Window() (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, c.ActivationStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to parse activation start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, c.ActivationEnd)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to parse activation end: %w", err)
	}
	return start, end, nil
}

// RewardByID returns the configured reward with the given id.
func (c *CampaignConfig) RewardByID(id string) (model.Reward, bool) {
	for _, r := range c.Rewards {
		if r.ID == id {
			return r, true
		}
	}
	return model.Reward{}, false
}

// RewardIndex returns the position of a reward on the wheel, used by the
// front end to land the animation. Unknown ids map to 0.
func (c *CampaignConfig) RewardIndex(id string) int {
	for i, r := range c.Rewards {
		if r.ID == id {
			return i
		}
	}
	return 0
}

// Days returns the calendar days of the activation window in campaign time.
func (c *CampaignConfig) Days() ([]time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	start, end, err := c.Window()
	if err != nil {
		return nil, err
	}
	day := startOfDay(start.In(loc))
	last := startOfDay(end.In(loc))
	var days []time.Time
	for !day.After(last) {
		days = append(days, day)
		day = day.AddDate(0, 0, 1)
	}
	return days, nil
}

// DailyCapSchedule spreads a reward's lifetime quantity across the campaign
// days: every day gets qty/len(days), and the leftover units go one each to
// the later days first so the tail of the campaign stays stocked. Rewards
// without a lifetime quantity have no daily caps and return nil.
func (c *CampaignConfig) DailyCapSchedule(r model.Reward) ([]int64, error) {
	if r.TotalQty == nil {
		return nil, nil
	}
	days, err := c.Days()
	if err != nil {
		return nil, err
	}
	n := len(days)
	if n == 0 {
		return nil, nil
	}
	base := *r.TotalQty / int64(n)
	remainder := int(*r.TotalQty % int64(n))

	caps := make([]int64, n)
	for i := range caps {
		caps[i] = base
	}
	for _, idx := range capPriorityOrder(n) {
		if remainder == 0 {
			break
		}
		caps[idx]++
		remainder--
	}
	return caps, nil
}

// capPriorityOrder lists day indexes in the order leftover cap units are
// handed out: midpoint to last day, then backwards from the midpoint.
func capPriorityOrder(n int) []int {
	order := make([]int, 0, n)
	mid := (n - 1) / 2
	for i := mid; i < n; i++ {
		order = append(order, i)
	}
	for i := mid - 1; i >= 0; i-- {
		order = append(order, i)
	}
	return order
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Validate checks the campaign definition for fatal misconfiguration.
func (c *CampaignConfig) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, _, err := c.Window(); err != nil {
		return err
	}
	if c.PerUserDailyLimit < 1 {
		return fmt.Errorf("per_user_daily_limit must be at least 1, got %d", c.PerUserDailyLimit)
	}
	if _, ok := c.RewardByID(c.FallbackRewardID); !ok {
		return fmt.Errorf("fallback reward %q is not in the reward list", c.FallbackRewardID)
	}
	for _, r := range c.Rewards {
		if r.BaseWeight < 0 {
			return fmt.Errorf("reward %q has negative base weight", r.ID)
		}
	}
	return nil
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variable override
	// Environment variables use underscore separator and uppercase
	// e.g., DATABASE_HOST, REDIS_PORT, AUTH_JWT_SECRET
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - env vars can provide all config)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Campaign.Validate(); err != nil {
		return nil, fmt.Errorf("invalid campaign config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. The campaign defaults
// describe the festive-fare-2025 promotion.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "spinwheel")
	v.SetDefault("database.name", "spinwheel")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "dev-secret")
	v.SetDefault("auth.hmac_secret", "dev-hmac")
	v.SetDefault("auth.allowed_drift", "3m")

	// Rate limit defaults
	v.SetDefault("rate_limit.max", 10)
	v.SetDefault("rate_limit.window", "60s")

	// Campaign defaults
	v.SetDefault("campaign.id", "festive-fare-2025")
	v.SetDefault("campaign.timezone", "Asia/Kuala_Lumpur")
	v.SetDefault("campaign.activation_start", "2025-12-15T00:00:00+08:00")
	v.SetDefault("campaign.activation_end", "2025-12-26T23:59:59+08:00")
	v.SetDefault("campaign.per_user_daily_limit", 1)
	v.SetDefault("campaign.fallback_reward_id", "reward_almost")
	v.SetDefault("campaign.rewards", defaultRewards())
}

// defaultRewards returns the seeded reward list for the default campaign.
func defaultRewards() []map[string]any {
	return []map[string]any{
		{
			"id": "reward_skyworlds", "name": "Genting SkyWorlds Ticket",
			"type": model.RewardTypePhysical, "base_weight": 2, "total_qty": 4, "is_active": true,
			"metadata": map[string]any{"partner": "Genting Highlands", "redeemBy": "2025-12-31"},
		},
		{
			"id": "reward_rm20", "name": "RM20 Instant Discount",
			"type": model.RewardTypeVoucher, "base_weight": 8, "total_qty": 40, "is_active": true,
			"metadata": map[string]any{"routes": []string{"MY", "SG"}, "redeemBy": "2025-12-31"},
		},
		{
			"id": "reward_rm10", "name": "RM10 Instant Discount",
			"type": model.RewardTypeVoucher, "base_weight": 16, "total_qty": 80, "is_active": true,
			"metadata": map[string]any{"routes": []string{"MY", "SG"}, "redeemBy": "2025-12-31"},
		},
		{
			"id": "reward_rm5", "name": "RM5 Instant Discount",
			"type": model.RewardTypeVoucher, "base_weight": 28, "total_qty": 130, "is_active": true,
			"metadata": map[string]any{"routes": []string{"MY", "SG"}, "redeemBy": "2025-12-31"},
		},
		{
			"id": "reward_cashback5", "name": "+5% Extra Cashback",
			"type": model.RewardTypePerk, "base_weight": 10, "total_qty": 30, "is_active": true,
			"metadata": map[string]any{"stackable": true, "redeemBy": "2025-12-31"},
		},
		{
			"id": "reward_almost", "name": "Almost There!",
			"type": model.RewardTypeNone, "base_weight": 6, "is_active": true,
		},
	}
}
