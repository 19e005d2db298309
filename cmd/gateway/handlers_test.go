package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rentora/pkg/csrf"
	"rentora/pkg/notify"
	"rentora/pkg/session"
	"rentora/pkg/stream"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestListPropertiesScopedToOwner(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	db := &fakeGatewayDB{}
	var gotSQL string
	var gotArgs []any
	db.queryFn = func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		gotSQL, gotArgs = sql, args
		return &fakeGatewayRows{rows: [][]any{
			{"p-1", "owner-1", "Sunrise Court", "12 Moi Ave", 4, created},
		}}, nil
	}
	s := newTestServer(db)
	req := withTestIdentity(httptest.NewRequest("GET", "/api/owner/properties", nil), "owner-1", session.RolePropertyOwner)
	rec := httptest.NewRecorder()
	s.handleListProperties(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(gotSQL, "WHERE owner_id=$1") {
		t.Fatalf("owner query not scoped: %s", gotSQL)
	}
	if len(gotArgs) != 1 || gotArgs[0] != "owner-1" {
		t.Fatalf("unexpected args: %#v", gotArgs)
	}
	var out struct {
		Success bool `json:"success"`
		Items   []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if !out.Success || len(out.Items) != 1 || out.Items[0].Name != "Sunrise Court" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestListPropertiesAdminUnscoped(t *testing.T) {
	db := &fakeGatewayDB{}
	var gotSQL string
	db.queryFn = func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		gotSQL = sql
		return &fakeGatewayRows{}, nil
	}
	s := newTestServer(db)
	req := withTestIdentity(httptest.NewRequest("GET", "/api/owner/properties", nil), "admin-1", session.RoleAdmin)
	rec := httptest.NewRecorder()
	s.handleListProperties(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(gotSQL, "owner_id=$1") {
		t.Fatalf("admin query should not be scoped: %s", gotSQL)
	}
}

func TestCreatePropertyValidation(t *testing.T) {
	s := newTestServer(&fakeGatewayDB{})
	req := withTestIdentity(httptest.NewRequest("POST", "/api/owner/properties", strings.NewReader(`{"name":"  "}`)), "owner-1", session.RolePropertyOwner)
	rec := httptest.NewRecorder()
	s.handleCreateProperty(rec, req)
	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"success":false`) {
		t.Fatalf("expected rejection envelope: %s", rec.Body.String())
	}
}

func TestCreatePropertyForcesOwnerScope(t *testing.T) {
	db := &fakeGatewayDB{}
	var insertArgs []any
	db.execFn = func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
		insertArgs = arguments
		return pgconn.NewCommandTag("INSERT 1"), nil
	}
	s := newTestServer(db)
	body := `{"name":"Sunrise","address":"12 Moi Ave","ownerId":"someone-else"}`
	req := withTestIdentity(httptest.NewRequest("POST", "/api/owner/properties", strings.NewReader(body)), "owner-1", session.RolePropertyOwner)
	rec := httptest.NewRecorder()
	s.handleCreateProperty(rec, req)
	if rec.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(insertArgs) < 2 || insertArgs[1] != "owner-1" {
		t.Fatalf("owner id not forced to caller: %#v", insertArgs)
	}
}

func TestGetPropertyNotFound(t *testing.T) {
	s := newTestServer(&fakeGatewayDB{})
	req := withTestIdentity(httptest.NewRequest("GET", "/api/owner/properties/p-9", nil), "owner-1", session.RolePropertyOwner)
	req = withGatewayURLParams(req, map[string]string{"propertyID": "p-9"})
	rec := httptest.NewRecorder()
	s.handleGetProperty(rec, req)
	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUpdatePropertyNoRowsIs404(t *testing.T) {
	db := &fakeGatewayDB{}
	db.execFn = func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	s := newTestServer(db)
	req := withTestIdentity(httptest.NewRequest("PUT", "/api/owner/properties/p-9", strings.NewReader(`{"name":"New"}`)), "owner-1", session.RolePropertyOwner)
	req = withGatewayURLParams(req, map[string]string{"propertyID": "p-9"})
	rec := httptest.NewRecorder()
	s.handleUpdateProperty(rec, req)
	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCreateUnitChecksPropertyOwnership(t *testing.T) {
	db := &fakeGatewayDB{}
	db.queryRowFn = func(ctx context.Context, sql string, args ...any) pgx.Row {
		return fakeGatewayRow{err: pgx.ErrNoRows}
	}
	s := newTestServer(db)
	req := withTestIdentity(httptest.NewRequest("POST", "/api/owner/properties/p-1/units", strings.NewReader(`{"label":"A1"}`)), "owner-2", session.RolePropertyOwner)
	req = withGatewayURLParams(req, map[string]string{"propertyID": "p-1"})
	rec := httptest.NewRecorder()
	s.handleCreateUnit(rec, req)
	if rec.Code != 404 {
		t.Fatalf("foreign property should read as missing, got %d", rec.Code)
	}
}

func TestCreateTenantAdminUsesPropertyOwner(t *testing.T) {
	db := &fakeGatewayDB{}
	db.queryRowFn = func(ctx context.Context, sql string, args ...any) pgx.Row {
		if strings.Contains(sql, "SELECT owner_id FROM properties") {
			return fakeGatewayRow{values: []any{"owner-7"}}
		}
		return fakeGatewayRow{values: []any{1}}
	}
	var insertArgs []any
	db.execFn = func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
		if strings.Contains(sql, "INSERT INTO tenants") {
			insertArgs = arguments
		}
		return pgconn.NewCommandTag("INSERT 1"), nil
	}
	s := newTestServer(db)
	body := `{"propertyId":"p-1","name":"Jane Renter"}`
	req := withTestIdentity(httptest.NewRequest("POST", "/api/owner/tenants", strings.NewReader(body)), "admin-1", session.RoleAdmin)
	rec := httptest.NewRecorder()
	s.handleCreateTenant(rec, req)
	if rec.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(insertArgs) < 2 || insertArgs[1] != "owner-7" {
		t.Fatalf("tenant should belong to property owner: %#v", insertArgs)
	}
}

func TestRecordPaymentRejectsNonTenant(t *testing.T) {
	s := newTestServer(&fakeGatewayDB{})
	req := withTestIdentity(httptest.NewRequest("POST", "/api/tenant/payments", strings.NewReader(`{}`)), "owner-1", session.RolePropertyOwner)
	rec := httptest.NewRecorder()
	s.handleRecordPayment(rec, req)
	if rec.Code != 403 {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRecordPaymentCSRFFromBody(t *testing.T) {
	db := &fakeGatewayDB{}
	db.queryRowFn = func(ctx context.Context, sql string, args ...any) pgx.Row {
		return fakeGatewayRow{values: []any{"p-1", "owner-1"}}
	}
	s := newTestServer(db)
	sub := s.Events.Subscribe(4)
	defer s.Events.Unsubscribe(sub)

	body := `{"amount":1500,"method":"mpesa","csrfToken":"tok-1"}`
	req := withTestIdentity(httptest.NewRequest("POST", "/api/tenant/payments", strings.NewReader(body)), "ten-1", session.RoleTenant)
	req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: "tok-1"})
	rec := httptest.NewRecorder()
	s.handleRecordPayment(rec, req)
	if rec.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	select {
	case evt := <-sub:
		if evt.Type != stream.EventPaymentRecorded {
			t.Fatalf("unexpected event type %s", evt.Type)
		}
	default:
		t.Fatal("expected payment event on the hub")
	}
	var balanceUpdated bool
	for _, sql := range db.execSQL {
		if strings.Contains(sql, "UPDATE tenants SET balance = balance - $2") {
			balanceUpdated = true
		}
	}
	if !balanceUpdated {
		t.Fatal("tenant balance was not reduced")
	}
}

func TestRecordPaymentSettlesOldestInvoicesFirst(t *testing.T) {
	db := &fakeGatewayDB{}
	db.queryRowFn = func(ctx context.Context, sql string, args ...any) pgx.Row {
		return fakeGatewayRow{values: []any{"p-1", "owner-1"}}
	}
	db.queryFn = func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		if strings.Contains(sql, "FROM invoices") {
			return &fakeGatewayRows{rows: [][]any{
				{"inv-1", int64(1000), "overdue"},
				{"inv-2", int64(1000), "open"},
			}}, nil
		}
		return &fakeGatewayRows{}, nil
	}
	var statusUpdates [][]any
	db.execFn = func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
		if strings.Contains(sql, "UPDATE invoices SET status") {
			statusUpdates = append(statusUpdates, arguments)
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	s := newTestServer(db)

	// 1500 covers the first invoice but only half of the second.
	body := `{"amount":1500,"method":"mpesa","csrfToken":"tok-1"}`
	req := withTestIdentity(httptest.NewRequest("POST", "/api/tenant/payments", strings.NewReader(body)), "ten-1", session.RoleTenant)
	req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: "tok-1"})
	rec := httptest.NewRecorder()
	s.handleRecordPayment(rec, req)
	if rec.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(statusUpdates) != 1 {
		t.Fatalf("expected exactly one settled invoice, got %d", len(statusUpdates))
	}
	if args := statusUpdates[0]; args[0] != "inv-1" || args[1] != "paid" || args[2] != "overdue" {
		t.Fatalf("unexpected settlement args: %#v", args)
	}
}

func TestUpdateInvoiceStatusGuardsTransitions(t *testing.T) {
	db := &fakeGatewayDB{}
	current := "paid"
	db.queryRowFn = func(ctx context.Context, sql string, args ...any) pgx.Row {
		return fakeGatewayRow{values: []any{current}}
	}
	s := newTestServer(db)

	send := func(status string) *httptest.ResponseRecorder {
		body := `{"status":"` + status + `"}`
		req := withTestIdentity(httptest.NewRequest("PUT", "/api/admin/invoices/inv-1", strings.NewReader(body)), "admin-1", session.RoleAdmin)
		req = withGatewayURLParams(req, map[string]string{"invoiceID": "inv-1"})
		rec := httptest.NewRecorder()
		s.handleUpdateInvoiceStatus(rec, req)
		return rec
	}

	if rec := send("open"); rec.Code != 409 {
		t.Fatalf("paid invoices are settled, expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	current = "open"
	if rec := send("void"); rec.Code != 200 {
		t.Fatalf("open invoices may be voided, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated bool
	for _, sql := range db.execSQL {
		if strings.Contains(sql, "UPDATE invoices SET status") {
			updated = true
		}
	}
	if !updated {
		t.Fatal("accepted transition did not update the invoice")
	}
}

func TestDuesRemindersMarkOverdueAndNotify(t *testing.T) {
	db := &fakeGatewayDB{}
	db.queryFn = func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		return &fakeGatewayRows{rows: [][]any{
			{"inv-1", "ten-1", int64(1000), "open", "owner-1"},
			{"inv-2", "ten-2", int64(2000), "overdue", "owner-2"},
		}}, nil
	}
	s := newTestServer(db)
	fn := &fakeNotifier{}
	s.Notify = fn

	req := withTestIdentity(httptest.NewRequest("POST", "/api/admin/reminders", nil), "admin-1", session.RoleAdmin)
	rec := httptest.NewRecorder()
	s.handleSendDuesReminders(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Success       bool `json:"success"`
		MarkedOverdue int  `json:"markedOverdue"`
		Reminded      int  `json:"reminded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if !out.Success || out.MarkedOverdue != 1 || out.Reminded != 2 {
		t.Fatalf("unexpected sweep result: %s", rec.Body.String())
	}
	if len(fn.published) != 2 {
		t.Fatalf("expected a reminder per tenant, got %d", len(fn.published))
	}
	for _, msg := range fn.published {
		if msg.Kind != notify.KindDuesReminder {
			t.Fatalf("unexpected message kind %q", msg.Kind)
		}
	}
	if fn.published[0].TenantID != "ten-1" || fn.published[1].TenantID != "ten-2" {
		t.Fatalf("unexpected reminder targets: %#v", fn.published)
	}
}

func TestRecordPaymentCSRFMismatch(t *testing.T) {
	s := newTestServer(&fakeGatewayDB{})
	body := `{"amount":1500,"method":"mpesa","csrfToken":"tok-wrong"}`
	req := withTestIdentity(httptest.NewRequest("POST", "/api/tenant/payments", strings.NewReader(body)), "ten-1", session.RoleTenant)
	req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: "tok-1"})
	rec := httptest.NewRecorder()
	s.handleRecordPayment(rec, req)
	if rec.Code != 403 {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRecordPaymentValidatesAmount(t *testing.T) {
	s := newTestServer(&fakeGatewayDB{})
	body := `{"amount":0,"method":"mpesa","csrfToken":"tok-1"}`
	req := withTestIdentity(httptest.NewRequest("POST", "/api/tenant/payments", strings.NewReader(body)), "ten-1", session.RoleTenant)
	req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: "tok-1"})
	rec := httptest.NewRecorder()
	s.handleRecordPayment(rec, req)
	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestOwnPaymentsTenantScopedToSelf(t *testing.T) {
	db := &fakeGatewayDB{}
	var gotArgs []any
	db.queryFn = func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		gotArgs = args
		return &fakeGatewayRows{}, nil
	}
	s := newTestServer(db)
	req := withTestIdentity(httptest.NewRequest("GET", "/api/tenant/payments", nil), "ten-9", session.RoleTenant)
	rec := httptest.NewRecorder()
	s.handleOwnPayments(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(gotArgs) != 1 || gotArgs[0] != "ten-9" {
		t.Fatalf("query not confined to caller: %#v", gotArgs)
	}
}

func TestAdminOverviewCaches(t *testing.T) {
	db := &fakeGatewayDB{}
	calls := 0
	db.queryRowFn = func(ctx context.Context, sql string, args ...any) pgx.Row {
		calls++
		return fakeGatewayRow{values: []any{int64(2), int64(5), int64(12), int64(40), int64(900000), int64(120000)}}
	}
	s := newTestServer(db)
	req := withTestIdentity(httptest.NewRequest("GET", "/api/admin/overview", nil), "admin-1", session.RoleAdmin)

	rec := httptest.NewRecorder()
	s.handleAdminOverview(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec2 := httptest.NewRecorder()
	s.handleAdminOverview(rec2, req)
	if rec2.Code != 200 {
		t.Fatalf("expected 200 on cached read, got %d", rec2.Code)
	}
	if calls != 1 {
		t.Fatalf("second read should come from cache, db calls=%d", calls)
	}
	if rec.Body.String() != rec2.Body.String() {
		t.Fatal("cached body differs from computed body")
	}
}

func TestCreateInvoiceUnknownTenant(t *testing.T) {
	s := newTestServer(&fakeGatewayDB{})
	body := `{"tenantId":"ten-x","amount":5000}`
	req := withTestIdentity(httptest.NewRequest("POST", "/api/admin/invoices", strings.NewReader(body)), "admin-1", session.RoleAdmin)
	rec := httptest.NewRecorder()
	s.handleCreateInvoice(rec, req)
	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCreateInvoiceRaisesBalanceAndPublishes(t *testing.T) {
	db := &fakeGatewayDB{}
	db.queryRowFn = func(ctx context.Context, sql string, args ...any) pgx.Row {
		return fakeGatewayRow{values: []any{"owner-1"}}
	}
	s := newTestServer(db)
	sub := s.Events.Subscribe(4)
	defer s.Events.Unsubscribe(sub)

	body := `{"tenantId":"ten-1","amount":5000}`
	req := withTestIdentity(httptest.NewRequest("POST", "/api/admin/invoices", strings.NewReader(body)), "admin-1", session.RoleAdmin)
	rec := httptest.NewRecorder()
	s.handleCreateInvoice(rec, req)
	if rec.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	select {
	case evt := <-sub:
		if evt.Type != stream.EventInvoiceCreated {
			t.Fatalf("unexpected event type %s", evt.Type)
		}
	default:
		t.Fatal("expected invoice event on the hub")
	}
	var balanceRaised bool
	for _, sql := range db.execSQL {
		if strings.Contains(sql, "UPDATE tenants SET balance = balance + $2") {
			balanceRaised = true
		}
	}
	if !balanceRaised {
		t.Fatal("tenant balance was not raised")
	}
}

func TestIssueTokenSetsCookieAndBody(t *testing.T) {
	s := newTestServer(&fakeGatewayDB{})
	rec := httptest.NewRecorder()
	s.handleIssueToken(rec, httptest.NewRequest("GET", "/api/csrf-token", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Success   bool   `json:"success"`
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if !out.Success || out.CSRFToken == "" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	var found bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == csrf.CookieName && c.Value == out.CSRFToken {
			found = true
		}
	}
	if !found {
		t.Fatal("token cookie missing or mismatched")
	}
}

func TestAuditTrailHandler(t *testing.T) {
	s := newTestServer(&fakeGatewayDB{})
	fa := s.Audit.(*fakeAuditStore)
	_ = fa.Append(context.Background(), auditEventFixture())
	req := withTestIdentity(httptest.NewRequest("GET", "/api/admin/audit?limit=10", nil), "admin-1", session.RoleAdmin)
	rec := httptest.NewRecorder()
	s.handleAuditTrail(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "FORBIDDEN_ROLE") {
		t.Fatalf("expected audited event in body: %s", rec.Body.String())
	}
}
