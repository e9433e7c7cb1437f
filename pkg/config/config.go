package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type APIConfig struct {
	Port           string `mapstructure:"port"`
	DBDriver       string `mapstructure:"db_driver"`
	DBDSN          string `mapstructure:"db_dsn"`
	RMQURL         string `mapstructure:"rmq_url"`
	Queue          string `mapstructure:"queue"`
	DefaultSession string `mapstructure:"gateway_session"`
}

type WorkerConfig struct {
	DBDriver string `mapstructure:"db_driver"`
	DBDSN    string `mapstructure:"db_dsn"`
	RMQURL   string `mapstructure:"rmq_url"`
	Queue    string `mapstructure:"queue"`

	GatewayURL     string        `mapstructure:"gateway_url"`
	GatewayTimeout time.Duration `mapstructure:"gateway_timeout"`
	SendRatePerSec float64       `mapstructure:"send_rate_per_sec"`

	Concurrency        int           `mapstructure:"worker_concurrency"`
	BatchSize          int           `mapstructure:"batch_size"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	IdlePoll           time.Duration `mapstructure:"idle_poll"`
	JitterMin          time.Duration `mapstructure:"jitter_min"`
	JitterMax          time.Duration `mapstructure:"jitter_max"`
	StoreRetryAttempts int           `mapstructure:"store_retry_attempts"`

	LeaseTTL           time.Duration `mapstructure:"lease_ttl"`
	ReclaimSchedule    string        `mapstructure:"reclaim_schedule"`
	RecoveryStaleAfter time.Duration `mapstructure:"recovery_stale_after"`

	MetricsAddr string `mapstructure:"metrics_addr"`
}

type CtlConfig struct {
	DBDriver string `mapstructure:"db_driver"`
	DBDSN    string `mapstructure:"db_dsn"`
}

var (
	API    APIConfig
	Worker WorkerConfig
	Ctl    CtlConfig
)

func newViper(defaults map[string]any) *viper.Viper {
	// a missing .env is fine, the process environment wins anyway
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

func mustUnmarshal(v *viper.Viper, out any) {
	if err := v.Unmarshal(out); err != nil {
		log.Fatalf("config: %v", err)
	}
}

func mustSet(name, val string) {
	if strings.TrimSpace(val) == "" {
		log.Fatalf("required env %s is not set", strings.ToUpper(name))
	}
}

var storeDefaults = map[string]any{
	"db_driver": "pgx",
	"db_dsn":    "",
}

func merge(ms ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, m := range ms {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func MustLoadAPI() {
	v := newViper(merge(storeDefaults, map[string]any{
		"port":            "8080",
		"rmq_url":         "",
		"queue":           "campaign_events",
		"gateway_session": "client-1",
	}))
	mustUnmarshal(v, &API)
	mustSet("db_dsn", API.DBDSN)
}

func MustLoadWorker() {
	v := newViper(merge(storeDefaults, map[string]any{
		"rmq_url":              "",
		"queue":                "campaign_events",
		"gateway_url":          "http://localhost:3000",
		"gateway_timeout":      "30s",
		"send_rate_per_sec":    1.0,
		"worker_concurrency":   1,
		"batch_size":           10,
		"cooldown":             "60s",
		"idle_poll":            "5s",
		"jitter_min":           "5s",
		"jitter_max":           "10s",
		"store_retry_attempts": 5,
		"lease_ttl":            "15m",
		"reclaim_schedule":     "@every 1m",
		"recovery_stale_after": "5m",
		"metrics_addr":         ":9100",
	}))
	mustUnmarshal(v, &Worker)
	mustSet("db_dsn", Worker.DBDSN)
	mustSet("gateway_url", Worker.GatewayURL)
	if err := Worker.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
}

// Validate rejects settings under which a claimed item can sit longer than
// LEASE_TTL between two lease renewals. Leases are renewed before every send,
// so the longest gap is one jitter plus one gateway call.
func (c WorkerConfig) Validate() error {
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("lease_ttl must be positive, got %s", c.LeaseTTL)
	}
	if c.JitterMin < 0 || c.JitterMax < c.JitterMin {
		return fmt.Errorf("jitter range %s..%s is invalid", c.JitterMin, c.JitterMax)
	}
	if gap := c.JitterMax + c.GatewayTimeout; gap >= c.LeaseTTL {
		return fmt.Errorf("lease_ttl %s must exceed jitter_max + gateway_timeout (%s)", c.LeaseTTL, gap)
	}
	if c.RecoveryStaleAfter < 0 {
		return fmt.Errorf("recovery_stale_after must not be negative, got %s", c.RecoveryStaleAfter)
	}
	return nil
}

func MustLoadCtl() {
	v := newViper(storeDefaults)
	mustUnmarshal(v, &Ctl)
	mustSet("db_dsn", Ctl.DBDSN)
}
