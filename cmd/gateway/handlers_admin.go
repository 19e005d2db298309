package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rentora/pkg/httpx"
	"rentora/pkg/metrics"
	"rentora/pkg/models"
	"rentora/pkg/notify"
	"rentora/pkg/stream"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	overviewCacheKey = "admin:overview"
	overviewCacheTTL = 30 * time.Second
)

type overview struct {
	Owners     int64 `json:"owners"`
	Properties int64 `json:"properties"`
	Tenants    int64 `json:"tenants"`
	Payments   int64 `json:"payments"`
	Collected  int64 `json:"collected"`
	OpenDues   int64 `json:"openDues"`
}

func (s *Server) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	if cached, err := s.Cache.Get(r.Context(), overviewCacheKey); err == nil && cached != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(cached))
		return
	}
	var o overview
	row := s.DB.QueryRow(r.Context(), `SELECT
		(SELECT COUNT(DISTINCT owner_id) FROM properties),
		(SELECT COUNT(*) FROM properties),
		(SELECT COUNT(*) FROM tenants),
		(SELECT COUNT(*) FROM payments),
		(SELECT COALESCE(SUM(amount),0) FROM payments),
		(SELECT COALESCE(SUM(amount),0) FROM invoices WHERE status IN ($1,$2))`,
		models.InvoiceOpen, models.InvoiceOverdue)
	if err := row.Scan(&o.Owners, &o.Properties, &o.Tenants, &o.Payments, &o.Collected, &o.OpenDues); err != nil {
		httpx.Error(w, 500, "failed to build overview")
		return
	}
	body, _ := json.Marshal(map[string]interface{}{"success": true, "overview": o})
	if err := s.Cache.Set(r.Context(), overviewCacheKey, string(body), overviewCacheTTL); err != nil {
		log.Printf("gateway: overview cache: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
	_, _ = w.Write(body)
}

func (s *Server) handleAdminOwners(w http.ResponseWriter, r *http.Request) {
	rows, err := s.DB.Query(r.Context(), `SELECT owner_id, COUNT(*), COALESCE(SUM(unit_count),0) FROM properties GROUP BY owner_id ORDER BY owner_id`)
	if err != nil {
		httpx.Error(w, 500, "failed to list owners")
		return
	}
	defer rows.Close()
	type ownerRow struct {
		OwnerID    string `json:"ownerId"`
		Properties int64  `json:"properties"`
		Units      int64  `json:"units"`
	}
	items := make([]ownerRow, 0, 16)
	for rows.Next() {
		var o ownerRow
		if err := rows.Scan(&o.OwnerID, &o.Properties, &o.Units); err == nil {
			items = append(items, o)
		}
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"success": true, "items": items})
}

func (s *Server) handleAdminProperties(w http.ResponseWriter, r *http.Request) {
	s.handleListProperties(w, r)
}

func (s *Server) handleAdminPayments(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	rows, err := s.DB.Query(r.Context(), `SELECT id, tenant_id, property_id, amount, method, reference, recorded_by, created_at FROM payments ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		httpx.Error(w, 500, "failed to list payments")
		return
	}
	defer rows.Close()
	items := make([]models.Payment, 0, limit)
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.TenantID, &p.PropertyID, &p.Amount, &p.Method, &p.Reference, &p.RecordedBy, &p.CreatedAt); err == nil {
			items = append(items, p)
		}
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"success": true, "items": items})
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	var rows pgx.Rows
	var err error
	if statusFilter == "" {
		rows, err = s.DB.Query(r.Context(), `SELECT id, tenant_id, amount, status, due_at, created_at FROM invoices ORDER BY created_at DESC LIMIT 500`)
	} else {
		rows, err = s.DB.Query(r.Context(), `SELECT id, tenant_id, amount, status, due_at, created_at FROM invoices WHERE status=$1 ORDER BY created_at DESC LIMIT 500`, statusFilter)
	}
	if err != nil {
		httpx.Error(w, 500, "failed to list invoices")
		return
	}
	defer rows.Close()
	items := make([]models.Invoice, 0, 16)
	for rows.Next() {
		var inv models.Invoice
		if err := rows.Scan(&inv.ID, &inv.TenantID, &inv.Amount, &inv.Status, &inv.DueAt, &inv.CreatedAt); err == nil {
			items = append(items, inv)
		}
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"success": true, "items": items})
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID string    `json:"tenantId"`
		Amount   int64     `json:"amount"`
		DueAt    time.Time `json:"dueAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if req.TenantID == "" {
		httpx.Error(w, 400, "tenantId required")
		return
	}
	if req.Amount <= 0 {
		httpx.Error(w, 400, "amount must be positive")
		return
	}
	if req.DueAt.IsZero() {
		req.DueAt = time.Now().UTC().AddDate(0, 1, 0)
	}
	var ownerID string
	if err := s.DB.QueryRow(r.Context(), `SELECT owner_id FROM tenants WHERE id=$1`, req.TenantID).Scan(&ownerID); err != nil {
		httpx.Error(w, 404, "tenant not found")
		return
	}
	inv := models.Invoice{
		ID:        uuid.NewString(),
		TenantID:  req.TenantID,
		Amount:    req.Amount,
		Status:    models.InvoiceOpen,
		DueAt:     req.DueAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.DB.Exec(r.Context(), `INSERT INTO invoices(id, tenant_id, amount, status, due_at, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		inv.ID, inv.TenantID, inv.Amount, inv.Status, inv.DueAt, inv.CreatedAt); err != nil {
		httpx.Error(w, 500, "failed to create invoice")
		return
	}
	_, _ = s.DB.Exec(r.Context(), `UPDATE tenants SET balance = balance + $2 WHERE id=$1`, inv.TenantID, inv.Amount)
	_ = s.Cache.Del(r.Context(), overviewCacheKey)
	s.Events.Publish(stream.NewEvent(stream.EventInvoiceCreated, inv))
	if s.Notify != nil {
		msg := notify.Message{
			Kind:     notify.KindInvoiceIssued,
			TenantID: inv.TenantID,
			OwnerID:  ownerID,
			Subject:  "New invoice",
			Body:     "An invoice of " + formatAmount(inv.Amount) + " is due " + inv.DueAt.Format("2006-01-02") + ".",
		}
		if err := s.Notify.Publish(r.Context(), msg); err != nil {
			log.Printf("gateway: notify publish: %v", err)
		}
	}
	httpx.WriteJSON(w, 201, map[string]interface{}{"success": true, "invoice": inv})
}

// handleUpdateInvoiceStatus moves an invoice along its lifecycle. Transitions
// outside the allowed graph, and races that change the status between read
// and write, both answer 409.
func (s *Server) handleUpdateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "invoiceID")
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	next := strings.ToLower(strings.TrimSpace(req.Status))
	if next == "" {
		httpx.Error(w, 400, "status required")
		return
	}
	var current string
	if err := s.DB.QueryRow(r.Context(), `SELECT status FROM invoices WHERE id=$1`, invoiceID).Scan(&current); err != nil {
		httpx.Error(w, 404, "invoice not found")
		return
	}
	if !models.InvoiceCanTransition(current, next) {
		httpx.Error(w, 409, "cannot move invoice from "+current+" to "+next)
		return
	}
	tag, err := s.DB.Exec(r.Context(), `UPDATE invoices SET status=$2 WHERE id=$1 AND status=$3`, invoiceID, next, current)
	if err != nil {
		httpx.Error(w, 500, "failed to update invoice")
		return
	}
	if tag.RowsAffected() == 0 {
		httpx.Error(w, 409, "invoice status changed concurrently")
		return
	}
	_ = s.Cache.Del(r.Context(), overviewCacheKey)
	httpx.WriteJSON(w, 200, map[string]interface{}{"success": true, "id": invoiceID, "status": next})
}

// handleSendDuesReminders sweeps invoices past their due date: open ones
// become overdue, and each tenant with arrears gets one reminder message.
func (s *Server) handleSendDuesReminders(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	rows, err := s.DB.Query(r.Context(), `SELECT i.id, i.tenant_id, i.amount, i.status, t.owner_id FROM invoices i JOIN tenants t ON t.id = i.tenant_id WHERE i.status IN ($1,$2) AND i.due_at <= $3 ORDER BY i.due_at`,
		models.InvoiceOpen, models.InvoiceOverdue, now)
	if err != nil {
		httpx.Error(w, 500, "failed to find overdue invoices")
		return
	}
	type pastDue struct {
		id, tenantID, status, ownerID string
		amount                        int64
	}
	due := make([]pastDue, 0, 16)
	for rows.Next() {
		var d pastDue
		if err := rows.Scan(&d.id, &d.tenantID, &d.amount, &d.status, &d.ownerID); err == nil {
			due = append(due, d)
		}
	}
	rows.Close()
	marked := 0
	arrears := map[string]int64{}
	owners := map[string]string{}
	for _, d := range due {
		if models.InvoiceCanTransition(d.status, models.InvoiceOverdue) {
			if tag, err := s.DB.Exec(r.Context(), `UPDATE invoices SET status=$2 WHERE id=$1 AND status=$3`, d.id, models.InvoiceOverdue, d.status); err == nil && tag.RowsAffected() > 0 {
				marked++
			}
		}
		arrears[d.tenantID] += d.amount
		owners[d.tenantID] = d.ownerID
	}
	reminded := 0
	if s.Notify != nil {
		for _, tenantID := range metrics.SortedKeys(arrears) {
			msg := notify.Message{
				Kind:     notify.KindDuesReminder,
				TenantID: tenantID,
				OwnerID:  owners[tenantID],
				Subject:  "Rent overdue",
				Body:     "You have " + formatAmount(arrears[tenantID]) + " in overdue rent. Please pay as soon as possible.",
			}
			if err := s.Notify.Publish(r.Context(), msg); err != nil {
				log.Printf("gateway: notify publish: %v", err)
				continue
			}
			reminded++
		}
	}
	if marked > 0 {
		_ = s.Cache.Del(r.Context(), overviewCacheKey)
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"success": true, "markedOverdue": marked, "reminded": reminded})
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	events, err := s.Audit.Recent(r.Context(), limit)
	if err != nil {
		httpx.Error(w, 500, "failed to read audit trail")
		return
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"success": true, "items": events})
}
