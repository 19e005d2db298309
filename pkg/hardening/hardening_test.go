package hardening

import (
	"strings"
	"testing"
)

func prodOptions() Options {
	return Options{
		Service:            "gateway",
		Environment:        "production",
		DatabaseRequireTLS: "true",
		SecureCookies:      true,
		CORSAllowedOrigins: "https://app.example.com",
	}
}

func TestValidateProductionPasses(t *testing.T) {
	if err := ValidateProduction(prodOptions()); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}
}

func TestValidateProductionSkipsDevelopment(t *testing.T) {
	o := prodOptions()
	o.Environment = "development"
	o.SecureCookies = false
	o.DatabaseRequireTLS = ""
	if err := ValidateProduction(o); err != nil {
		t.Fatalf("development must not be gated: %v", err)
	}
}

func TestValidateProductionRequiresSecureCookies(t *testing.T) {
	o := prodOptions()
	o.SecureCookies = false
	err := ValidateProduction(o)
	if err == nil || !strings.Contains(err.Error(), "secure session cookies") {
		t.Fatalf("expected secure cookie error, got %v", err)
	}
}

func TestValidateProductionRequiresDatabaseTLS(t *testing.T) {
	o := prodOptions()
	o.DatabaseRequireTLS = "false"
	if err := ValidateProduction(o); err == nil {
		t.Fatal("expected database TLS error")
	}
}

func TestValidateProductionRedisTLS(t *testing.T) {
	o := prodOptions()
	o.RedisAddr = "redis:6379"
	if err := ValidateProduction(o); err == nil {
		t.Fatal("expected redis TLS error")
	}
	o.RedisRequireTLS = "true"
	if err := ValidateProduction(o); err != nil {
		t.Fatalf("expected valid config with redis TLS: %v", err)
	}
	o.RedisTLSInsecure = "true"
	if err := ValidateProduction(o); err == nil {
		t.Fatal("expected insecure redis TLS rejection")
	}
}

func TestValidateProductionRejectsWildcardCORS(t *testing.T) {
	o := prodOptions()
	o.CORSAllowedOrigins = "*"
	if err := ValidateProduction(o); err == nil {
		t.Fatal("expected wildcard CORS rejection")
	}
}

func TestValidateProductionRejectsPlainHTTPOrigin(t *testing.T) {
	o := prodOptions()
	o.CORSAllowedOrigins = "http://app.example.com"
	if err := ValidateProduction(o); err == nil {
		t.Fatal("expected http origin rejection")
	}
}

func TestIsProductionLikeEnv(t *testing.T) {
	for _, env := range []string{"production", "Prod", "STAGING", "stage"} {
		if !IsProductionLikeEnv(env) {
			t.Fatalf("%q should be production-like", env)
		}
	}
	for _, env := range []string{"", "development", "dev", "local", "test"} {
		if IsProductionLikeEnv(env) {
			t.Fatalf("%q should not be production-like", env)
		}
	}
}
