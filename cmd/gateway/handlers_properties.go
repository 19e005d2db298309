package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"rentora/pkg/httpx"
	"rentora/pkg/models"
	"rentora/pkg/session"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ownerScope returns the owner id the request is confined to. Admins see
// everything; property owners only their own rows.
func ownerScope(ctx context.Context) (session.Identity, string, bool) {
	id, _ := session.IdentityFromContext(ctx)
	if id.Role == session.RoleAdmin {
		return id, "", false
	}
	return id, id.UserID, true
}

func (s *Server) handleListProperties(w http.ResponseWriter, r *http.Request) {
	_, owner, scoped := ownerScope(r.Context())
	var rows pgx.Rows
	var err error
	if scoped {
		rows, err = s.DB.Query(r.Context(), `SELECT id, owner_id, name, address, unit_count, created_at FROM properties WHERE owner_id=$1 ORDER BY created_at DESC`, owner)
	} else {
		rows, err = s.DB.Query(r.Context(), `SELECT id, owner_id, name, address, unit_count, created_at FROM properties ORDER BY created_at DESC`)
	}
	if err != nil {
		httpx.Error(w, 500, "failed to list properties")
		return
	}
	defer rows.Close()
	items := make([]models.Property, 0, 16)
	for rows.Next() {
		var p models.Property
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Address, &p.UnitCount, &p.CreatedAt); err == nil {
			items = append(items, p)
		}
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"success": true, "items": items})
}

func (s *Server) handleCreateProperty(w http.ResponseWriter, r *http.Request) {
	id, _, scoped := ownerScope(r.Context())
	var req struct {
		Name    string `json:"name"`
		Address string `json:"address"`
		OwnerID string `json:"ownerId"`
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
	if scoped || req.OwnerID == "" {
		req.OwnerID = id.UserID
	}
	p := models.Property{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		Name:      req.Name,
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.DB.Exec(r.Context(), `INSERT INTO properties(id, owner_id, name, address, unit_count, created_at) VALUES ($1,$2,$3,$4,0,$5)`,
		p.ID, p.OwnerID, p.Name, p.Address, p.CreatedAt)
	if err != nil {
		httpx.Error(w, 500, "failed to create property")
		return
	}
	httpx.WriteJSON(w, 201, map[string]interface{}{"success": true, "property": p})
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	propertyID := chi.URLParam(r, "propertyID")
	_, owner, scoped := ownerScope(r.Context())
	var row pgx.Row
	if scoped {
		row = s.DB.QueryRow(r.Context(), `SELECT id, owner_id, name, address, unit_count, created_at FROM properties WHERE id=$1 AND owner_id=$2`, propertyID, owner)
	} else {
		row = s.DB.QueryRow(r.Context(), `SELECT id, owner_id, name, address, unit_count, created_at FROM properties WHERE id=$1`, propertyID)
	}
	var p models.Property
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Address, &p.UnitCount, &p.CreatedAt); err != nil {
		httpx.Error(w, 404, "property not found")
		return
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"success": true, "property": p})
}

func (s *Server) handleUpdateProperty(w http.ResponseWriter, r *http.Request) {
	propertyID := chi.URLParam(r, "propertyID")
	_, owner, scoped := ownerScope(r.Context())
	var req struct {
		Name    string `json:"name"`
		Address string `json:"address"`
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
	var cmdErr error
	var affected int64
	if scoped {
		cmd, err := s.DB.Exec(r.Context(), `UPDATE properties SET name=$3, address=$4 WHERE id=$1 AND owner_id=$2`, propertyID, owner, req.Name, strings.TrimSpace(req.Address))
		cmdErr, affected = err, cmd.RowsAffected()
	} else {
		cmd, err := s.DB.Exec(r.Context(), `UPDATE properties SET name=$2, address=$3 WHERE id=$1`, propertyID, req.Name, strings.TrimSpace(req.Address))
		cmdErr, affected = err, cmd.RowsAffected()
	}
	if cmdErr != nil {
		httpx.Error(w, 500, "failed to update property")
		return
	}
	if affected == 0 {
		httpx.Error(w, 404, "property not found")
		return
	}
	httpx.OK(w, "property updated")
}

func (s *Server) handleDeleteProperty(w http.ResponseWriter, r *http.Request) {
	propertyID := chi.URLParam(r, "propertyID")
	_, owner, scoped := ownerScope(r.Context())
	var cmdErr error
	var affected int64
	if scoped {
		cmd, err := s.DB.Exec(r.Context(), `DELETE FROM properties WHERE id=$1 AND owner_id=$2`, propertyID, owner)
		cmdErr, affected = err, cmd.RowsAffected()
	} else {
		cmd, err := s.DB.Exec(r.Context(), `DELETE FROM properties WHERE id=$1`, propertyID)
		cmdErr, affected = err, cmd.RowsAffected()
	}
	if cmdErr != nil {
		httpx.Error(w, 500, "failed to delete property")
		return
	}
	if affected == 0 {
		httpx.Error(w, 404, "property not found")
		return
	}
	_ = s.Cache.Del(r.Context(), overviewCacheKey)
	httpx.OK(w, "property deleted")
}

// propertyOwnedBy confirms the property exists and, when scoped, belongs to
// the caller.
func (s *Server) propertyOwnedBy(ctx context.Context, propertyID, owner string, scoped bool) bool {
	var one int
	var row pgx.Row
	if scoped {
		row = s.DB.QueryRow(ctx, `SELECT 1 FROM properties WHERE id=$1 AND owner_id=$2`, propertyID, owner)
	} else {
		row = s.DB.QueryRow(ctx, `SELECT 1 FROM properties WHERE id=$1`, propertyID)
	}
	return row.Scan(&one) == nil
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	propertyID := chi.URLParam(r, "propertyID")
	_, owner, scoped := ownerScope(r.Context())
	if !s.propertyOwnedBy(r.Context(), propertyID, owner, scoped) {
		httpx.Error(w, 404, "property not found")
		return
	}
	rows, err := s.DB.Query(r.Context(), `SELECT id, property_id, label, unit_type, monthly_rent FROM units WHERE property_id=$1 ORDER BY label`, propertyID)
	if err != nil {
		httpx.Error(w, 500, "failed to list units")
		return
	}
	defer rows.Close()
	items := make([]models.Unit, 0, 8)
	for rows.Next() {
		var u models.Unit
		if err := rows.Scan(&u.ID, &u.PropertyID, &u.Label, &u.UnitType, &u.MonthlyRent); err == nil {
			items = append(items, u)
		}
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"success": true, "items": items})
}

func (s *Server) handleCreateUnit(w http.ResponseWriter, r *http.Request) {
	propertyID := chi.URLParam(r, "propertyID")
	_, owner, scoped := ownerScope(r.Context())
	if !s.propertyOwnedBy(r.Context(), propertyID, owner, scoped) {
		httpx.Error(w, 404, "property not found")
		return
	}
	var req struct {
		Label       string `json:"label"`
		UnitType    string `json:"unitType"`
		MonthlyRent int64  `json:"monthlyRent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	req.Label = strings.TrimSpace(req.Label)
	if req.Label == "" {
		httpx.Error(w, 400, "label required")
		return
	}
	if req.MonthlyRent < 0 {
		httpx.Error(w, 400, "monthlyRent must not be negative")
		return
	}
	u := models.Unit{
		ID:          uuid.NewString(),
		PropertyID:  propertyID,
		Label:       req.Label,
		UnitType:    strings.TrimSpace(req.UnitType),
		MonthlyRent: req.MonthlyRent,
	}
	if _, err := s.DB.Exec(r.Context(), `INSERT INTO units(id, property_id, label, unit_type, monthly_rent) VALUES ($1,$2,$3,$4,$5)`,
		u.ID, u.PropertyID, u.Label, u.UnitType, u.MonthlyRent); err != nil {
		httpx.Error(w, 500, "failed to create unit")
		return
	}
	_, _ = s.DB.Exec(r.Context(), `UPDATE properties SET unit_count = unit_count + 1 WHERE id=$1`, propertyID)
	httpx.WriteJSON(w, 201, map[string]interface{}{"success": true, "unit": u})
}
