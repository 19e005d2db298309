package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"rentora/pkg/csrf"
	"rentora/pkg/httpx"
	"rentora/pkg/models"
	"rentora/pkg/notify"
	"rentora/pkg/session"
	"rentora/pkg/stream"

	"github.com/google/uuid"
)

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	token := s.CSRF.Issue(w)
	httpx.WriteJSON(w, 200, map[string]interface{}{"success": true, "csrfToken": token})
}

func (s *Server) handleOwnPayments(w http.ResponseWriter, r *http.Request) {
	id, _ := session.IdentityFromContext(r.Context())
	if id.Role == session.RoleTenant {
		s.writePayments(w, r, id.UserID)
		return
	}
	// Property owners see payments across all of their tenants.
	rows, err := s.DB.Query(r.Context(), `SELECT p.id, p.tenant_id, p.property_id, p.amount, p.method, p.reference, p.recorded_by, p.created_at FROM payments p JOIN tenants t ON t.id = p.tenant_id WHERE t.owner_id=$1 ORDER BY p.created_at DESC`, id.UserID)
	if err != nil {
		httpx.Error(w, 500, "failed to list payments")
		return
	}
	defer rows.Close()
	items := make([]models.Payment, 0, 16)
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.TenantID, &p.PropertyID, &p.Amount, &p.Method, &p.Reference, &p.RecordedBy, &p.CreatedAt); err == nil {
			items = append(items, p)
		}
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"success": true, "items": items})
}

// handleRecordPayment validates its own CSRF token because clients submit it
// in the JSON body as well as the header.
func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	id, _ := session.IdentityFromContext(r.Context())
	if id.Role != session.RoleTenant {
		httpx.Error(w, 403, "access denied")
		return
	}
	var req struct {
		Amount    int64  `json:"amount"`
		Method    string `json:"method"`
		Reference string `json:"reference"`
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	supplied := strings.TrimSpace(r.Header.Get(csrf.HeaderName))
	if supplied == "" {
		supplied = req.CSRFToken
	}
	var cookieToken string
	if c, err := r.Cookie(csrf.CookieName); err == nil {
		cookieToken = c.Value
	}
	if !csrf.Validate(cookieToken, supplied) {
		httpx.Error(w, 403, "invalid or missing CSRF token")
		return
	}
	p := models.Payment{
		ID:         uuid.NewString(),
		TenantID:   id.UserID,
		Amount:     req.Amount,
		Method:     strings.ToLower(strings.TrimSpace(req.Method)),
		Reference:  strings.TrimSpace(req.Reference),
		RecordedBy: id.UserID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := models.ValidatePayment(p); err != nil {
		httpx.Error(w, 400, err.Error())
		return
	}
	var ownerID string
	if err := s.DB.QueryRow(r.Context(), `SELECT property_id, owner_id FROM tenants WHERE id=$1`, p.TenantID).Scan(&p.PropertyID, &ownerID); err != nil {
		httpx.Error(w, 404, "tenant record not found")
		return
	}
	if _, err := s.DB.Exec(r.Context(), `INSERT INTO payments(id, tenant_id, property_id, amount, method, reference, recorded_by, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.TenantID, p.PropertyID, p.Amount, p.Method, p.Reference, p.RecordedBy, p.CreatedAt); err != nil {
		httpx.Error(w, 500, "failed to record payment")
		return
	}
	_, _ = s.DB.Exec(r.Context(), `UPDATE tenants SET balance = balance - $2 WHERE id=$1`, p.TenantID, p.Amount)
	s.settleInvoices(r.Context(), p.TenantID, p.Amount)
	_ = s.Cache.Del(r.Context(), overviewCacheKey)
	s.Events.Publish(stream.NewEvent(stream.EventPaymentRecorded, p))
	if s.Notify != nil {
		msg := notify.Message{
			Kind:     notify.KindPaymentRecorded,
			TenantID: p.TenantID,
			OwnerID:  ownerID,
			Subject:  "Payment received",
			Body:     "A payment of " + formatAmount(p.Amount) + " was recorded.",
		}
		if err := s.Notify.Publish(r.Context(), msg); err != nil {
			log.Printf("gateway: notify publish: %v", err)
		}
	}
	httpx.WriteJSON(w, 201, map[string]interface{}{"success": true, "payment": p})
}

// settleInvoices marks the tenant's outstanding invoices paid, oldest due
// first, as far as the payment covers them. Partial coverage leaves the
// invoice outstanding; the remainder only moves the balance. The status
// predicate in the UPDATE keeps concurrent settlements from double-paying.
func (s *Server) settleInvoices(ctx context.Context, tenantID string, amount int64) {
	rows, err := s.DB.Query(ctx, `SELECT id, amount, status FROM invoices WHERE tenant_id=$1 AND status IN ($2,$3) ORDER BY due_at, created_at`,
		tenantID, models.InvoiceOpen, models.InvoiceOverdue)
	if err != nil {
		log.Printf("gateway: settle invoices: %v", err)
		return
	}
	type outstanding struct {
		id     string
		amount int64
		status string
	}
	pending := make([]outstanding, 0, 8)
	for rows.Next() {
		var o outstanding
		if err := rows.Scan(&o.id, &o.amount, &o.status); err == nil {
			pending = append(pending, o)
		}
	}
	rows.Close()
	for _, o := range pending {
		if amount < o.amount {
			return
		}
		if !models.InvoiceCanTransition(o.status, models.InvoicePaid) {
			continue
		}
		tag, err := s.DB.Exec(ctx, `UPDATE invoices SET status=$2 WHERE id=$1 AND status=$3`, o.id, models.InvoicePaid, o.status)
		if err != nil {
			log.Printf("gateway: settle invoices: %v", err)
			return
		}
		if tag.RowsAffected() > 0 {
			amount -= o.amount
		}
	}
}

// formatAmount renders minor currency units as a decimal string.
func formatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}
