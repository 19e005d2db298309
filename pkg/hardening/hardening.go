package hardening

import (
	"fmt"
	"net/url"
	"strings"
)

type Options struct {
	Service               string
	Environment           string
	StrictProdSecurity    string
	DatabaseRequireTLS    string
	RedisAddr             string
	RedisRequireTLS       string
	RedisTLSInsecure      string
	RedisAllowInsecureTLS string
	CORSAllowedOrigins    string
	SecureCookies         bool
}

// ValidateProduction rejects configurations that would run a production-like
// deployment without transport security or with wildcard CORS. Outside
// production-like environments it is a no-op.
func ValidateProduction(o Options) error {
	if !IsProductionLikeEnv(o.Environment) {
		return nil
	}
	if !isTrue(o.StrictProdSecurity, true) {
		return nil
	}
	service := strings.TrimSpace(o.Service)
	if service == "" {
		service = "service"
	}
	if !o.SecureCookies {
		return fmt.Errorf("%s: strict production hardening requires secure session cookies", service)
	}
	if !isTrue(o.DatabaseRequireTLS, false) {
		return fmt.Errorf("%s: strict production hardening requires DATABASE_REQUIRE_TLS=true", service)
	}
	if strings.TrimSpace(o.RedisAddr) != "" {
		if !isTrue(o.RedisRequireTLS, false) {
			return fmt.Errorf("%s: strict production hardening requires REDIS_REQUIRE_TLS=true", service)
		}
		if isTrue(o.RedisTLSInsecure, false) || isTrue(o.RedisAllowInsecureTLS, false) {
			return fmt.Errorf("%s: strict production hardening forbids REDIS_TLS_INSECURE/REDIS_ALLOW_INSECURE_TLS", service)
		}
	}
	return validateCORSOrigins(o.CORSAllowedOrigins, service)
}

// IsProductionLikeEnv reports whether the runtime environment string names
// a deployment where hardening must hold.
func IsProductionLikeEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod", "staging", "stage":
		return true
	}
	return false
}

func validateCORSOrigins(origins, service string) error {
	for _, part := range strings.Split(origins, ",") {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if origin == "*" {
			return fmt.Errorf("%s: strict production hardening forbids wildcard CORS origins", service)
		}
		parsed, err := url.Parse(origin)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s: invalid CORS origin %q", service, origin)
		}
		if parsed.Scheme != "https" {
			return fmt.Errorf("%s: strict production hardening requires https CORS origins, got %q", service, origin)
		}
	}
	return nil
}

func isTrue(raw string, def bool) bool {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return def
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
