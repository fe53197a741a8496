package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"parlor/internal/watchdog"
)

type APIConfig struct {
	Addr            string
	DatabaseURL     string
	SupabaseURL     string
	SupabaseAnonKey string
	NATSURL         string
	CommandWindow   time.Duration
	LeaseTTL        time.Duration
	PresenceTTL     time.Duration
	RoomIdleAfter   time.Duration
	SweepEvery      time.Duration
	DealMin         int
	DealMax         int
}

type CLIConfig struct {
	APIBaseURL string
	NATSURL    string
	Watchdog   watchdog.Config
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("PARLOR_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:            addr,
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SupabaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey: strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		NATSURL:         envDefault("NATS_URL", "nats://localhost:4222"),
		CommandWindow:   envDurationDefault("PARLOR_COMMAND_WINDOW", 1500*time.Millisecond),
		LeaseTTL:        envDurationDefault("PARLOR_LEASE_TTL", 10*time.Second),
		PresenceTTL:     envDurationDefault("PARLOR_PRESENCE_TTL", 45*time.Second),
		RoomIdleAfter:   envDurationDefault("PARLOR_ROOM_IDLE_AFTER", 6*time.Hour),
		SweepEvery:      envDurationDefault("PARLOR_SWEEP_EVERY", time.Minute),
		DealMin:         envIntDefault("PARLOR_DEAL_MIN", 1),
		DealMax:         envIntDefault("PARLOR_DEAL_MAX", 100),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	if cfg.DealMin >= cfg.DealMax {
		return cfg, fmt.Errorf("deal range [%d,%d] is empty", cfg.DealMin, cfg.DealMax)
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("PRL_API_BASE_URL", "http://localhost:8080"), "/"),
		NATSURL:    envDefault("NATS_URL", "nats://localhost:4222"),
		Watchdog:   loadWatchdogFromEnv(),
	}
}

func loadWatchdogFromEnv() watchdog.Config {
	def := watchdog.DefaultConfig()
	return watchdog.Config{
		InitialStaleMs:         envInt64Default("PRL_WD_INITIAL_STALE_MS", def.InitialStaleMs),
		PostStaleMs:            envInt64Default("PRL_WD_POST_STALE_MS", def.PostStaleMs),
		CacheOnlyStaleMs:       envInt64Default("PRL_WD_CACHE_ONLY_STALE_MS", def.CacheOnlyStaleMs),
		RecoveryCooldownMs:     envInt64Default("PRL_WD_RECOVERY_COOLDOWN_MS", def.RecoveryCooldownMs),
		RecoverySlowCooldownMs: envInt64Default("PRL_WD_RECOVERY_SLOW_COOLDOWN_MS", def.RecoverySlowCooldownMs),
		RecoveryMaxAttempts:    envIntDefault("PRL_WD_RECOVERY_MAX_ATTEMPTS", def.RecoveryMaxAttempts),
		RecoveryHardCooldownMs: envInt64Default("PRL_WD_RECOVERY_HARD_COOLDOWN_MS", def.RecoveryHardCooldownMs),
		TraceIntervalMs:        envInt64Default("PRL_WD_TRACE_INTERVAL_MS", def.TraceIntervalMs),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64Default(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
