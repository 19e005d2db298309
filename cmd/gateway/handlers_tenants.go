package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"rentora/pkg/httpx"
	"rentora/pkg/models"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	_, owner, scoped := ownerScope(r.Context())
	var rows pgx.Rows
	var err error
	if scoped {
		rows, err = s.DB.Query(r.Context(), `SELECT id, owner_id, property_id, unit_id, name, phone, email, balance, created_at FROM tenants WHERE owner_id=$1 ORDER BY created_at DESC`, owner)
	} else {
		rows, err = s.DB.Query(r.Context(), `SELECT id, owner_id, property_id, unit_id, name, phone, email, balance, created_at FROM tenants ORDER BY created_at DESC`)
	}
	if err != nil {
		httpx.Error(w, 500, "failed to list tenants")
		return
	}
	defer rows.Close()
	items := make([]models.Tenant, 0, 16)
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.PropertyID, &t.UnitID, &t.Name, &t.Phone, &t.Email, &t.Balance, &t.CreatedAt); err == nil {
			items = append(items, t)
		}
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"success": true, "items": items})
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	_, owner, scoped := ownerScope(r.Context())
	var req struct {
		PropertyID string `json:"propertyId"`
		UnitID     string `json:"unitId"`
		Name       string `json:"name"`
		Phone      string `json:"phone"`
		Email      string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httpx.Error(w, 400, "name required")
		return
	}
	if req.PropertyID == "" {
		httpx.Error(w, 400, "propertyId required")
		return
	}
	if !s.propertyOwnedBy(r.Context(), req.PropertyID, owner, scoped) {
		httpx.Error(w, 404, "property not found")
		return
	}
	ownerID := owner
	if !scoped {
		// Admin creates on behalf of the property's owner.
		if err := s.DB.QueryRow(r.Context(), `SELECT owner_id FROM properties WHERE id=$1`, req.PropertyID).Scan(&ownerID); err != nil {
			httpx.Error(w, 404, "property not found")
			return
		}
	}
	t := models.Tenant{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		PropertyID: req.PropertyID,
		UnitID:     strings.TrimSpace(req.UnitID),
		Name:       req.Name,
		Phone:      strings.TrimSpace(req.Phone),
		Email:      strings.TrimSpace(req.Email),
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := s.DB.Exec(r.Context(), `INSERT INTO tenants(id, owner_id, property_id, unit_id, name, phone, email, balance, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8)`,
		t.ID, t.OwnerID, t.PropertyID, t.UnitID, t.Name, t.Phone, t.Email, t.CreatedAt); err != nil {
		httpx.Error(w, 500, "failed to create tenant")
		return
	}
	httpx.WriteJSON(w, 201, map[string]interface{}{"success": true, "tenant": t})
}

func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, owner, scoped := ownerScope(r.Context())
	var cmdErr error
	var affected int64
	if scoped {
		cmd, err := s.DB.Exec(r.Context(), `DELETE FROM tenants WHERE id=$1 AND owner_id=$2`, tenantID, owner)
		cmdErr, affected = err, cmd.RowsAffected()
	} else {
		cmd, err := s.DB.Exec(r.Context(), `DELETE FROM tenants WHERE id=$1`, tenantID)
		cmdErr, affected = err, cmd.RowsAffected()
	}
	if cmdErr != nil {
		httpx.Error(w, 500, "failed to delete tenant")
		return
	}
	if affected == 0 {
		httpx.Error(w, 404, "tenant not found")
		return
	}
	httpx.OK(w, "tenant deleted")
}

func (s *Server) handleTenantDues(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	rows, err := s.DB.Query(r.Context(), `SELECT tenant_id, amount, due_at, status FROM invoices WHERE tenant_id=$1 AND status IN ($2,$3) ORDER BY due_at`, tenantID, models.InvoiceOpen, models.InvoiceOverdue)
	if err != nil {
		httpx.Error(w, 500, "failed to list dues")
		return
	}
	defer rows.Close()
	items := make([]models.Due, 0, 8)
	var total int64
	for rows.Next() {
		var d models.Due
		var status string
		if err := rows.Scan(&d.TenantID, &d.Amount, &d.DueAt, &status); err == nil {
			d.Label = status
			total += d.Amount
			items = append(items, d)
		}
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"success": true, "items": items, "total": total})
}

func (s *Server) handleTenantPayments(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	s.writePayments(w, r, tenantID)
}

func (s *Server) writePayments(w http.ResponseWriter, r *http.Request, tenantID string) {
	rows, err := s.DB.Query(r.Context(), `SELECT id, tenant_id, property_id, amount, method, reference, recorded_by, created_at FROM payments WHERE tenant_id=$1 ORDER BY created_at DESC`, tenantID)
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
