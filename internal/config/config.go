package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/i474232898/weather-course/internal/course"
	"github.com/i474232898/weather-course/internal/region"
	"github.com/i474232898/weather-course/internal/weather"
)

type AppConfig struct {
	// Env is "production" or anything else. Production never uses the
	// insecure transport fallback.
	Env string

	KMAServiceKey  string
	TourServiceKey string
	KMABaseURL     string
	TourBaseURL    string

	ProxyURL              string
	AllowInsecureFallback bool

	// HTTPTimeout bounds a single outbound attempt.
	HTTPTimeout time.Duration
	// CollectBudget is the shared deadline per content type collection.
	CollectBudget time.Duration
	// RequestTimeout is the hard backstop for an inbound request.
	RequestTimeout time.Duration

	SweepConcurrency int
	GeoRadiusMeters  int
	PageSize         int
	ContentPriority  []string
	DefaultLimit     int
	MaxLimit         int

	// Upstream probe job.
	ProbeInterval time.Duration
	ProbeRegion   string

	// In-memory probe store retention.
	StoreMaxHistory int           // max number of results per upstream (0 = unlimited)
	StoreMaxAge     time.Duration // max age of results (0 = unlimited)

	TracingEnabled  bool
	TracingEndpoint string

	Port string
}

// IsProduction reports whether the service runs in production.
func (c *AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.Env = getenvDefault("APP_ENV", "development")
	cfg.KMAServiceKey = strings.TrimSpace(os.Getenv("KMA_SERVICE_KEY"))
	cfg.TourServiceKey = strings.TrimSpace(os.Getenv("TOUR_SERVICE_KEY"))
	cfg.KMABaseURL = getenvDefault("KMA_BASE_URL", weather.DefaultBaseURL)
	cfg.TourBaseURL = strings.TrimRight(getenvDefault("TOUR_BASE_URL", course.DefaultCatalogURL), "/")
	cfg.ProxyURL = os.Getenv("OUTBOUND_PROXY_URL")

	var err error
	if cfg.AllowInsecureFallback, err = getenvBool("ALLOW_INSECURE_FALLBACK", false); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 4*time.Second); err != nil {
		return nil, err
	}
	if cfg.CollectBudget, err = getenvDuration("COLLECT_BUDGET", 8*time.Second); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getenvDuration("REQUEST_TIMEOUT", 9*time.Second); err != nil {
		return nil, err
	}

	cfg.SweepConcurrency = getenvInt("SWEEP_CONCURRENCY", 12)
	cfg.GeoRadiusMeters = getenvInt("GEO_RADIUS_METERS", 15000)
	cfg.PageSize = getenvInt("PAGE_SIZE", 15)
	cfg.DefaultLimit = getenvInt("DEFAULT_LIMIT", 6)
	cfg.MaxLimit = getenvInt("MAX_LIMIT", 30)
	if cfg.DefaultLimit <= 0 || cfg.MaxLimit < cfg.DefaultLimit {
		return nil, fmt.Errorf("invalid DEFAULT_LIMIT/MAX_LIMIT: %d/%d", cfg.DefaultLimit, cfg.MaxLimit)
	}

	cfg.ContentPriority = splitList(getenvDefault("CONTENT_TYPE_PRIORITY", strings.Join(course.DefaultContentPriority, ",")))
	if len(cfg.ContentPriority) == 0 {
		return nil, fmt.Errorf("CONTENT_TYPE_PRIORITY must name at least one content type")
	}

	// Probe job: default every 15 minutes against the default region.
	if cfg.ProbeInterval, err = getenvDuration("PROBE_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	cfg.ProbeRegion = getenvDefault("PROBE_REGION", region.DefaultKey)
	if _, ok := region.Lookup(cfg.ProbeRegion); !ok {
		return nil, fmt.Errorf("unknown PROBE_REGION %q", cfg.ProbeRegion)
	}

	// Store retention.
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 96) // roughly 24h at 15-minute intervals
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", 24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.TracingEnabled, err = getenvBool("TRACING_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.TracingEndpoint = getenvDefault("TRACING_ENDPOINT", "localhost:4317")
	cfg.Port = getenvDefault("PORT", "8080")

	if cfg.IsProduction() && cfg.AllowInsecureFallback {
		log.Printf("WARN: ALLOW_INSECURE_FALLBACK ignored in production")
		cfg.AllowInsecureFallback = false
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
