package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"rentora/pkg/audit"
	"rentora/pkg/csrf"
	"rentora/pkg/gatekeeper"
	"rentora/pkg/metrics"
	"rentora/pkg/notify"
	"rentora/pkg/ratelimit"
	"rentora/pkg/session"
	"rentora/pkg/store"
	"rentora/pkg/stream"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeGatewayDB struct {
	execFn     func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	execSQL    []string
}

func (f *fakeGatewayDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	if f.execFn != nil {
		return f.execFn(ctx, sql, arguments...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeGatewayDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if f.queryFn != nil {
		return f.queryFn(ctx, sql, args...)
	}
	return &fakeGatewayRows{}, nil
}

func (f *fakeGatewayDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if f.queryRowFn != nil {
		return f.queryRowFn(ctx, sql, args...)
	}
	return fakeGatewayRow{err: pgx.ErrNoRows}
}

type fakeGatewayRow struct {
	values []any
	err    error
}

func (r fakeGatewayRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("scan arity mismatch")
	}
	for i := range dest {
		if err := assignGatewayScan(dest[i], r.values[i]); err != nil {
			return err
		}
	}
	return nil
}

type fakeGatewayRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeGatewayRows) Close() {}

func (r *fakeGatewayRows) Err() error { return r.err }

func (r *fakeGatewayRows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT 1") }

func (r *fakeGatewayRows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (r *fakeGatewayRows) Next() bool {
	if r.err != nil {
		return false
	}
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeGatewayRows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.rows) {
		return errors.New("no current row")
	}
	current := r.rows[r.idx-1]
	if len(dest) != len(current) {
		return errors.New("scan arity mismatch")
	}
	for i := range dest {
		if err := assignGatewayScan(dest[i], current[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeGatewayRows) Values() ([]any, error) {
	if r.idx == 0 || r.idx > len(r.rows) {
		return nil, errors.New("no current row")
	}
	return append([]any(nil), r.rows[r.idx-1]...), nil
}

func (r *fakeGatewayRows) RawValues() [][]byte { return nil }

func (r *fakeGatewayRows) Conn() *pgx.Conn { return nil }

func assignGatewayScan(dest any, value any) error {
	switch d := dest.(type) {
	case *string:
		v, ok := value.(string)
		if !ok {
			return errors.New("value is not string")
		}
		*d = v
	case *int:
		switch v := value.(type) {
		case int:
			*d = v
		case int64:
			*d = int(v)
		default:
			return errors.New("value is not int")
		}
	case *int64:
		switch v := value.(type) {
		case int64:
			*d = v
		case int:
			*d = int64(v)
		default:
			return errors.New("value is not int64")
		}
	case *time.Time:
		v, ok := value.(time.Time)
		if !ok {
			return errors.New("value is not time.Time")
		}
		*d = v
	default:
		return errors.New("unsupported scan destination")
	}
	return nil
}

type fakeAuditStore struct {
	appended []audit.Event
	recentFn func(ctx context.Context, limit int) ([]audit.Event, error)
}

func (f *fakeAuditStore) Append(ctx context.Context, ev audit.Event) error {
	f.appended = append(f.appended, ev)
	return nil
}

func (f *fakeAuditStore) Recent(ctx context.Context, limit int) ([]audit.Event, error) {
	if f.recentFn != nil {
		return f.recentFn(ctx, limit)
	}
	return append([]audit.Event(nil), f.appended...), nil
}

type fakeNotifier struct {
	published []notify.Message
	err       error
}

func (f *fakeNotifier) Publish(ctx context.Context, msg notify.Message) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func auditEventFixture() audit.Event {
	return audit.Event{
		At:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Method:   "POST",
		Path:     "/api/admin/invoices",
		ClientIP: "203.0.113.9",
		UserID:   "owner-1",
		Role:     session.RolePropertyOwner,
		Reason:   "FORBIDDEN_ROLE",
		Status:   403,
	}
}

func withGatewayURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func withTestIdentity(req *http.Request, userID, role string) *http.Request {
	id := session.Identity{UserID: userID, Role: role}
	return req.WithContext(session.WithIdentity(req.Context(), id))
}

func newTestServer(db *fakeGatewayDB) *Server {
	return &Server{
		DB:                  db,
		Cache:               store.NewMemoryCache(),
		Audit:               &fakeAuditStore{},
		Metrics:             metrics.NewRegistry(),
		Events:              stream.NewHub(),
		CSRF:                csrf.NewIssuer(time.Hour, false),
		MaxRequestBodyBytes: 1 << 20,
	}
}

// newTestRouter wires the full middleware chain the way runGateway does,
// minus telemetry and body limits.
func newTestRouter(s *Server, limiter ratelimit.Limiter, rateLimit int) http.Handler {
	gate := gatekeeper.New(routeTable(), limiter, rateLimit)
	gate.Metrics = s.Metrics
	gate.Audit = s.Audit
	gate.Events = s.Events
	s.Gate = gate
	r := chi.NewRouter()
	r.Use(gate.Middleware)
	s.registerRoutes(r)
	return r
}

func doRequest(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
