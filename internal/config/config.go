package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Env         string
	ServiceName string
	Port        string
	MetricsPort string

	StoreBackend string // "redis" or "memory"
	RedisURL     string
	RedisPass    string
	RedisDB      int

	JWTSecret string

	// Block source
	BlockSource   string // "tron" or "evm"
	TronAPIURL    string
	TronAPIKey    string
	EVMRPCURL     string
	ExplorerURL   string
	SourceTimeout time.Duration

	// Round lifecycle
	Games          []string
	Stride         int64
	CloseOffset    int64
	Confirmations  int64
	BlockInterval  time.Duration
	PollInterval   time.Duration
	SettleInterval time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	StallTimeout   time.Duration
	PendingTimeout time.Duration

	// Bet admission
	MinBet        decimal.Decimal
	MaxBet        decimal.Decimal
	Currencies    []string
	BetsPerMinute int

	// Outbound
	KafkaBrokers    string
	KafkaTopic      string
	PostgresDSN     string
	AlertWebhookURL string
}

// Load reads the configuration from the environment. Values missing from the
// environment fall back to defaults that match Tron mainnet (3s blocks).
func Load() (*Config, error) {
	cfg := &Config{
		Env:         getEnv("ENV", "local"),
		ServiceName: getEnv("SERVICE_NAME", "hashgames-api"),
		Port:        getEnv("PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9095"),

		StoreBackend: getEnv("STORE_BACKEND", "redis"),
		RedisURL:     getEnv("REDIS_URL", "localhost:6379"),
		RedisPass:    getEnv("REDIS_PASSWORD", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		BlockSource: getEnv("BLOCK_SOURCE", "tron"),
		TronAPIURL:  getEnv("TRON_API_URL", "https://api.trongrid.io"),
		TronAPIKey:  getEnv("TRON_API_KEY", ""),
		EVMRPCURL:   getEnv("EVM_RPC_URL", ""),
		ExplorerURL: getEnv("EXPLORER_URL", "https://tronscan.org/#/block/"),

		Games:      splitList(getEnv("GAMES", "oddeven,bankerplayer")),
		Currencies: splitList(getEnv("CURRENCIES", "USD")),

		KafkaBrokers:    getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "hashgames_events"),
		PostgresDSN:     getEnv("POSTGRES_DSN", ""),
		AlertWebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.BetsPerMinute, err = getInt("BETS_PER_MINUTE", 30); err != nil {
		return nil, err
	}
	if cfg.Stride, err = getInt64("ROUND_STRIDE", 1); err != nil {
		return nil, err
	}
	if cfg.CloseOffset, err = getInt64("ROUND_CLOSE_OFFSET", 0); err != nil {
		return nil, err
	}
	if cfg.Confirmations, err = getInt64("CONFIRMATIONS", 1); err != nil {
		return nil, err
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"SOURCE_TIMEOUT", 10 * time.Second, &cfg.SourceTimeout},
		{"BLOCK_INTERVAL", 3 * time.Second, &cfg.BlockInterval},
		{"POLL_INTERVAL", 1 * time.Second, &cfg.PollInterval},
		{"SETTLE_INTERVAL", 2 * time.Second, &cfg.SettleInterval},
		{"BACKOFF_MIN", 500 * time.Millisecond, &cfg.BackoffMin},
		{"BACKOFF_MAX", 15 * time.Second, &cfg.BackoffMax},
		{"STALL_TIMEOUT", 2 * time.Minute, &cfg.StallTimeout},
		{"PENDING_TIMEOUT", 5 * time.Minute, &cfg.PendingTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if cfg.MinBet, err = getDecimal("MIN_BET", "1"); err != nil {
		return nil, err
	}
	if cfg.MaxBet, err = getDecimal("MAX_BET", "15000"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Stride < 1 {
		return fmt.Errorf("ROUND_STRIDE must be at least 1, got %d", c.Stride)
	}
	if c.CloseOffset < 0 {
		return fmt.Errorf("ROUND_CLOSE_OFFSET must not be negative, got %d", c.CloseOffset)
	}
	if c.Confirmations < 0 {
		return fmt.Errorf("CONFIRMATIONS must not be negative, got %d", c.Confirmations)
	}
	if !c.MinBet.IsPositive() {
		return fmt.Errorf("MIN_BET must be positive, got %s", c.MinBet)
	}
	if c.MaxBet.LessThan(c.MinBet) {
		return fmt.Errorf("MAX_BET (%s) is below MIN_BET (%s)", c.MaxBet, c.MinBet)
	}
	if c.BackoffMax < c.BackoffMin {
		return fmt.Errorf("BACKOFF_MAX (%s) is below BACKOFF_MIN (%s)", c.BackoffMax, c.BackoffMin)
	}
	if len(c.Games) == 0 {
		return fmt.Errorf("GAMES must name at least one game")
	}
	switch c.StoreBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.BlockSource {
	case "tron":
	case "evm":
		if c.EVMRPCURL == "" {
			return fmt.Errorf("EVM_RPC_URL is required when BLOCK_SOURCE=evm")
		}
	default:
		return fmt.Errorf("unknown BLOCK_SOURCE %q", c.BlockSource)
	}
	if c.Env == "production" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getInt64(key string, def int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getDecimal(key, def string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, def))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
