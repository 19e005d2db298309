package main

import (
	"net/http"

	"rentora/pkg/gatekeeper"
	"rentora/pkg/httpx"
	"rentora/pkg/session"

	"github.com/go-chi/chi/v5"
)

// routeTable is the single source of truth for who may reach what. Paths
// without an entry pass through the gatekeeper unrestricted.
func routeTable() *gatekeeper.Table {
	ownerRoles := []string{session.RolePropertyOwner, session.RoleAdmin}
	return gatekeeper.MustTable([]gatekeeper.Entry{
		{Prefix: "/api/csrf-token", Roles: nil, API: true, CSRF: gatekeeper.CSRFExempt},
		{Prefix: "/api/owner", Roles: ownerRoles, API: true},
		{Prefix: "/api/tenants", Roles: []string{session.RoleTenant, session.RolePropertyOwner, session.RoleAdmin}, API: true, TenantOwned: true},
		{Prefix: "/api/tenant/payments", Roles: []string{session.RoleTenant, session.RolePropertyOwner}, API: true, CSRF: gatekeeper.CSRFSelfHandled},
		{Prefix: "/api/admin", Roles: []string{session.RoleAdmin}, API: true},
		{Prefix: "/metrics", Roles: []string{session.RoleAdmin}, API: true},
		{Prefix: "/dashboard", Roles: []string{session.RoleAdmin, session.RolePropertyOwner, session.RoleTenant}},
		{Prefix: "/owner", Roles: ownerRoles},
		{Prefix: "/tenant", Roles: []string{session.RoleTenant}},
		{Prefix: "/admin", Roles: []string{session.RoleAdmin}},
	})
}

func (s *Server) registerRoutes(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/csrf-token", s.handleIssueToken)

	r.Route("/api/owner", func(r chi.Router) {
		r.Get("/properties", s.handleListProperties)
		r.Post("/properties", s.handleCreateProperty)
		r.Get("/properties/{propertyID}", s.handleGetProperty)
		r.Put("/properties/{propertyID}", s.handleUpdateProperty)
		r.Delete("/properties/{propertyID}", s.handleDeleteProperty)
		r.Get("/properties/{propertyID}/units", s.handleListUnits)
		r.Post("/properties/{propertyID}/units", s.handleCreateUnit)
		r.Get("/tenants", s.handleListTenants)
		r.Post("/tenants", s.handleCreateTenant)
		r.Delete("/tenants/{tenantID}", s.handleDeleteTenant)
	})

	r.Get("/api/tenants/{tenantID}/dues", s.handleTenantDues)
	r.Get("/api/tenants/{tenantID}/payments", s.handleTenantPayments)
	r.Get("/api/tenant/payments", s.handleOwnPayments)
	r.Post("/api/tenant/payments", s.handleRecordPayment)

	r.Route("/api/admin", func(r chi.Router) {
		r.Get("/overview", s.handleAdminOverview)
		r.Get("/owners", s.handleAdminOwners)
		r.Get("/properties", s.handleAdminProperties)
		r.Get("/payments", s.handleAdminPayments)
		r.Get("/invoices", s.handleListInvoices)
		r.Post("/invoices", s.handleCreateInvoice)
		r.Put("/invoices/{invoiceID}", s.handleUpdateInvoiceStatus)
		r.Post("/reminders", s.handleSendDuesReminders)
		r.Get("/audit", s.handleAuditTrail)
		r.Get("/stream", s.handleAdminStream)
	})

	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())

	// Page shells; the gatekeeper has already applied role checks and
	// redirects, so these only confirm the client reached a page it may see.
	for _, p := range []string{"/signin", "/dashboard", "/owner", "/tenant", "/admin"} {
		r.Get(p, s.handlePage)
		r.Get(p+"/*", s.handlePage)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<!doctype html><title>Rentora</title><div id=\"app\"></div>\n"))
}
