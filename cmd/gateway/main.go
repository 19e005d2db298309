package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"rentora/pkg/audit"
	"rentora/pkg/csrf"
	"rentora/pkg/gatekeeper"
	"rentora/pkg/hardening"
	"rentora/pkg/httpx"
	"rentora/pkg/metrics"
	"rentora/pkg/notify"
	"rentora/pkg/ratelimit"
	"rentora/pkg/store"
	"rentora/pkg/stream"
	"rentora/pkg/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

type gatewayDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type auditStore interface {
	Append(ctx context.Context, ev audit.Event) error
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}

type notifier interface {
	Publish(ctx context.Context, msg notify.Message) error
}

type Server struct {
	DB                  gatewayDB
	Cache               store.Cache
	Audit               auditStore
	Metrics             *metrics.Registry
	Events              *stream.Hub
	Notify              notifier
	CSRF                *csrf.Issuer
	Gate                *gatekeeper.Gatekeeper
	MaxRequestBodyBytes int64
}

type gatewayDBCloser interface {
	gatewayDB
	Close()
}

type gatewayInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type gatewayOpenDBFunc func(ctx context.Context) (gatewayDBCloser, error)
type gatewayOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type gatewayListenFunc func(server *http.Server) error

// Testable variables for main()
var (
	logFatalf      = log.Fatalf
	initTelemetryG = telemetry.Init
	openDBFnG      = func(ctx context.Context) (gatewayDBCloser, error) { return store.NewPostgresPool(ctx) }
	openRedisFnG   = store.NewRedis
	listenFnG      = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	if err := runGateway(initTelemetryG, openDBFnG, openRedisFnG, listenFnG); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func runGateway(
	initTelemetry gatewayInitTelemetryFunc,
	openDB gatewayOpenDBFunc,
	openRedis gatewayOpenRedisFunc,
	listen gatewayListenFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "gateway")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	pool, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	runtimeEnv := env("ENVIRONMENT", env("APP_ENV", ""))
	secureCookies := hardening.IsProductionLikeEnv(runtimeEnv)
	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "gateway",
		Environment:           runtimeEnv,
		StrictProdSecurity:    env("STRICT_PROD_SECURITY", "true"),
		DatabaseRequireTLS:    env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisRequireTLS:       env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:      env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS: env("REDIS_ALLOW_INSECURE_TLS", ""),
		CORSAllowedOrigins:    env("CORS_ALLOWED_ORIGINS", ""),
		SecureCookies:         secureCookies,
	}); err != nil {
		return err
	}

	rateLimitWindow := time.Second * time.Duration(envInt("RATE_LIMIT_WINDOW_SEC", 900))
	if rateLimitWindow <= 0 {
		rateLimitWindow = 15 * time.Minute
	}
	var limiter ratelimit.Limiter
	if env("RATE_LIMIT_ENABLED", "true") == "true" {
		if redisClient != nil {
			limiter = ratelimit.NewRedis(redisClient, rateLimitWindow)
		} else {
			limiter = ratelimit.NewInMemory(rateLimitWindow)
		}
	}

	maxRequestBodyBytes := int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20))
	if maxRequestBodyBytes <= 0 {
		maxRequestBodyBytes = 1 << 20
	}

	s := &Server{
		DB:                  pool,
		Cache:               store.NewCache(ctx, redisClient),
		Audit:               &audit.Writer{DB: pool},
		Metrics:             metrics.NewRegistry(),
		Events:              stream.NewHub(),
		CSRF:                csrf.NewIssuer(time.Second*time.Duration(envInt("CSRF_TOKEN_TTL_SEC", 3600)), secureCookies),
		MaxRequestBodyBytes: maxRequestBodyBytes,
	}
	gate := gatekeeper.New(routeTable(), limiter, envInt("RATE_LIMIT_MAX_REQUESTS", 100))
	gate.Metrics = s.Metrics
	gate.Audit = s.Audit
	gate.Events = s.Events
	s.Gate = gate
	s.Metrics.SetGauge("rate_limit_ceiling", float64(gate.RateLimit))

	if brokers := env("KAFKA_BROKERS", ""); brokers != "" {
		publisher, err := notify.NewKafkaPublisher(notify.KafkaConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   env("KAFKA_NOTIFY_TOPIC", "rentora.notifications"),
		})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer publisher.Close()
		s.Notify = publisher
	}

	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("gateway"))
	r.Use(s.limitRequestBodyMiddleware)
	r.Use(gate.Middleware)
	s.registerRoutes(r)

	addr := env("ADDR", ":8080")
	log.Printf("gateway listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker for the websocket
// upgrade.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		s.Metrics.Observe(r.Method+" "+r.URL.Path, rec.code, time.Since(start))
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(key string, def int) time.Duration {
	return time.Second * time.Duration(envInt(key, def))
}
