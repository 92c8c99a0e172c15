package ratelimit

import (
	"net/http"
	"strings"
)

// unlimited is returned for probes and CORS preflights.
var unlimited = EndpointConfig{}

// MatchEndpoint returns the configuration for a request, or nil when the
// default limit applies. An exact path wins over a prefix ("/sessions/"
// matches "/sessions/{id}") and the longest prefix wins among prefixes.
// Methods compare case-insensitively.
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	method = strings.ToUpper(method)
	if method == http.MethodOptions || (path == "/health" && method == http.MethodGet) {
		u := unlimited
		return &u
	}

	var best *EndpointConfig
	for i := range configs {
		cfg := &configs[i]
		if !strings.EqualFold(cfg.Method, method) {
			continue
		}
		if cfg.Path == path {
			return cfg
		}
		if strings.HasSuffix(cfg.Path, "/") && strings.HasPrefix(path, cfg.Path) {
			if best == nil || len(cfg.Path) > len(best.Path) {
				best = cfg
			}
		}
	}
	return best
}
