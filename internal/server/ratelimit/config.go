package ratelimit

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	IdleTTL         time.Duration // buckets unused for this long are dropped
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// EndpointConfig allows Limit requests per Window for one method and path,
// with bursts up to Burst (Limit when zero). A path ending in "/" matches
// every path below it.
type EndpointConfig struct {
	Path   string
	Method string
	Limit  int
	Window time.Duration
	Burst  int
}

// LoadConfig reads RATE_LIMIT_* variables. Unparseable values keep their
// defaults.
//
// RATE_LIMIT_ENDPOINTS overrides or extends the endpoint table with entries
// of the form "POST /reconcile=10/1h/2", separated by commas; the burst part
// is optional.
func LoadConfig() *Config {
	if !envBool("RATE_LIMIT_ENABLED", true) {
		return &Config{Enabled: false}
	}

	endpoints := DefaultEndpointConfigs()
	if raw := os.Getenv("RATE_LIMIT_ENDPOINTS"); raw != "" {
		if overrides, err := ParseEndpointConfigs(raw); err == nil {
			endpoints = mergeEndpoints(endpoints, overrides)
		}
	}

	return &Config{
		Enabled:         true,
		DefaultLimit:    envInt("RATE_LIMIT_DEFAULT_LIMIT", 1000),
		DefaultWindow:   envDuration("RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
		CleanupInterval: envDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		IdleTTL:         envDuration("RATE_LIMIT_IDLE_TTL", time.Hour),
		Whitelist:       parseIPList(os.Getenv("RATE_LIMIT_WHITELIST")),
		Blacklist:       parseIPList(os.Getenv("RATE_LIMIT_BLACKLIST")),
		EndpointConfigs: endpoints,
	}
}

// DefaultEndpointConfigs returns the built-in endpoint table.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Full runs touch the ledger and make one portal call per group.
		{Path: "/reconcile", Method: "POST", Limit: 10, Window: time.Hour, Burst: 2},

		// Single portal round trips.
		{Path: "/auth", Method: "POST", Limit: 30, Window: time.Minute, Burst: 5},
		{Path: "/process", Method: "POST", Limit: 30, Window: time.Minute, Burst: 5},
		{Path: "/fetch-document", Method: "POST", Limit: 60, Window: time.Minute, Burst: 10},
	}
}

// ParseEndpointConfigs parses a comma separated list of
// "METHOD /path=limit/window[/burst]" entries.
func ParseEndpointConfigs(raw string) ([]EndpointConfig, error) {
	var out []EndpointConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		route, limits, ok := strings.Cut(entry, "=")
		method, path, okRoute := strings.Cut(strings.TrimSpace(route), " ")
		if !ok || !okRoute || !strings.HasPrefix(strings.TrimSpace(path), "/") {
			return nil, fmt.Errorf("invalid rate limit entry %q: want \"METHOD /path=limit/window[/burst]\"", entry)
		}

		parts := strings.Split(limits, "/")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid rate limit entry %q: want limit/window[/burst]", entry)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("invalid limit in rate limit entry %q", entry)
		}
		window, err := time.ParseDuration(strings.TrimSpace(parts[1]))
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("invalid window in rate limit entry %q", entry)
		}
		burst := 0
		if len(parts) == 3 {
			if burst, err = strconv.Atoi(strings.TrimSpace(parts[2])); err != nil || burst < 0 {
				return nil, fmt.Errorf("invalid burst in rate limit entry %q", entry)
			}
		}

		out = append(out, EndpointConfig{
			Path:   strings.TrimSpace(path),
			Method: strings.ToUpper(strings.TrimSpace(method)),
			Limit:  limit,
			Window: window,
			Burst:  burst,
		})
	}
	return out, nil
}

// mergeEndpoints replaces base entries with the same method and path and
// appends the rest.
func mergeEndpoints(base, overrides []EndpointConfig) []EndpointConfig {
	out := append([]EndpointConfig(nil), base...)
	for _, o := range overrides {
		replaced := false
		for i := range out {
			if out[i].Path == o.Path && strings.EqualFold(out[i].Method, o.Method) {
				out[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}

func envInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func envBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func envDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

// parseIPList parses a comma separated list of client addresses.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			result[ip] = true
		}
	}
	return result
}
