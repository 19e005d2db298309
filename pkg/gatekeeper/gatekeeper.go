package gatekeeper

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rentora/pkg/audit"
	"rentora/pkg/csrf"
	"rentora/pkg/httpx"
	"rentora/pkg/metrics"
	"rentora/pkg/ratelimit"
	"rentora/pkg/session"
	"rentora/pkg/stream"
)

// Rejection reason codes. API callers only ever see the message text; the
// codes feed metrics and the audit trail.
const (
	ReasonUnauthenticated    = "UNAUTHENTICATED"
	ReasonForbiddenRole      = "FORBIDDEN_ROLE"
	ReasonForbiddenOwnership = "FORBIDDEN_OWNERSHIP"
	ReasonCSRFInvalid        = "CSRF_INVALID"
	ReasonRateLimited        = "RATE_LIMITED"
	ReasonInternal           = "INTERNAL"
)

// RemainingHeader is attached to mutating API requests that pass the rate
// counter.
const RemainingHeader = "X-RateLimit-Remaining"

// Sink receives rejection events. Satisfied by *audit.Writer.
type Sink interface {
	Append(ctx context.Context, ev audit.Event) error
}

// Gatekeeper composes the route access table, session check, ownership
// check, CSRF validation, and rate counting in front of every route. It is
// a synchronous function of the request; the only shared mutable state is
// the injected rate limiter.
type Gatekeeper struct {
	Table      *Table
	Limiter    ratelimit.Limiter
	RateLimit  int
	SignInPath string
	// StaticPrefixes bypass the gatekeeper entirely (assets, health).
	StaticPrefixes []string
	Metrics        *metrics.Registry
	Audit          Sink
	// AuditTimeout bounds the audit append so a slow sink cannot hold the
	// rejection response open.
	AuditTimeout time.Duration
	Events       *stream.Hub
}

func New(table *Table, limiter ratelimit.Limiter, rateLimit int) *Gatekeeper {
	if rateLimit <= 0 {
		rateLimit = 100
	}
	return &Gatekeeper{
		Table:          table,
		Limiter:        limiter,
		RateLimit:      rateLimit,
		SignInPath:     "/signin",
		StaticPrefixes: []string{"/static", "/assets", "/favicon.ico", "/healthz"},
		AuditTimeout:   2 * time.Second,
	}
}

// Middleware evaluates the access decision for each request. Downstream
// handlers never see a request that failed gatekeeping.
func (g *Gatekeeper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("gatekeeper: panic evaluating %s %s: %v", r.Method, r.URL.Path, rec)
				g.count(ReasonInternal)
				httpx.Error(w, http.StatusInternalServerError, "internal error")
			}
		}()
		path := r.URL.Path
		if g.isStatic(path) {
			next.ServeHTTP(w, r)
			return
		}
		entry, ok := g.Table.Lookup(path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		id := session.FromRequest(r)
		if len(entry.Roles) > 0 {
			if !id.Authenticated() {
				g.reject(w, r, entry, id, ReasonUnauthenticated, http.StatusUnauthorized, "authentication required")
				return
			}
			if !id.HasAnyRole(entry.Roles...) {
				g.reject(w, r, entry, id, ReasonForbiddenRole, http.StatusForbidden, "access denied")
				return
			}
		}
		// Ownership layers on top of role membership: a tenant may only
		// reach resources under their own tenant id.
		if entry.TenantOwned && id.Role == session.RoleTenant {
			if owned := entry.ownedSegment(path); owned != "" && owned != id.UserID {
				g.reject(w, r, entry, id, ReasonForbiddenOwnership, http.StatusForbidden, "access denied")
				return
			}
		}
		r = r.WithContext(session.WithIdentity(r.Context(), id))
		if entry.API && isMutating(r.Method) {
			if entry.CSRF == CSRFEnforced && !csrf.ValidateRequest(r) {
				g.reject(w, r, entry, id, ReasonCSRFInvalid, http.StatusForbidden, "invalid or missing CSRF token")
				return
			}
			if g.Limiter != nil {
				decision := g.Limiter.Allow(ClientKey(r), g.RateLimit)
				if !decision.Allowed {
					g.reject(w, r, entry, id, ReasonRateLimited, http.StatusTooManyRequests, "too many requests, please try again later")
					return
				}
				w.Header().Set(RemainingHeader, strconv.Itoa(decision.Remaining))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gatekeeper) isStatic(path string) bool {
	for _, p := range g.StaticPrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func (g *Gatekeeper) reject(w http.ResponseWriter, r *http.Request, entry Entry, id session.Identity, reason string, status int, msg string) {
	g.count(reason)
	ev := audit.Event{
		At:       time.Now().UTC(),
		Method:   r.Method,
		Path:     r.URL.Path,
		ClientIP: ClientKey(r),
		UserID:   id.UserID,
		Role:     id.Role,
		Reason:   reason,
		Status:   status,
	}
	if g.Events != nil {
		g.Events.Publish(stream.NewEvent(stream.EventAccessDenied, ev))
	}
	if g.Audit != nil {
		// Detached from the request context so a client disconnect does not
		// abandon the record mid-write.
		timeout := g.AuditTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := g.Audit.Append(ctx, ev); err != nil {
			log.Printf("gatekeeper: audit append: %v", err)
		}
	}
	if !entry.API {
		http.Redirect(w, r, g.SignInPath, http.StatusSeeOther)
		return
	}
	httpx.Error(w, status, msg)
}

func (g *Gatekeeper) count(reason string) {
	if g.Metrics != nil {
		g.Metrics.IncRejection(reason)
	}
}

// ClientKey derives the rate-limit bucket for a request: first address in
// X-Forwarded-For, else X-Real-IP, else a shared "unknown" bucket. All
// unidentified clients sharing one bucket is a deliberate coarse fallback.
func ClientKey(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first := xff
		if i := strings.IndexByte(xff, ','); i >= 0 {
			first = xff[:i]
		}
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	return "unknown"
}
