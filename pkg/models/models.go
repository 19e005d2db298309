package models

import (
	"errors"
	"strings"
	"time"
)

// Property is a rental property owned by a single propertyOwner account.
type Property struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	UnitCount int       `json:"unitCount"`
	CreatedAt time.Time `json:"createdAt"`
}

// Unit is a rentable unit inside a property.
type Unit struct {
	ID          string `json:"id"`
	PropertyID  string `json:"propertyId"`
	Label       string `json:"label"`
	UnitType    string `json:"unitType"`
	MonthlyRent int64  `json:"monthlyRent"`
}

// Tenant is a renter account attached to a unit. Balance is the amount
// currently owed, in minor currency units.
type Tenant struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	PropertyID string    `json:"propertyId"`
	UnitID     string    `json:"unitId"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Email      string    `json:"email"`
	Balance    int64     `json:"balance"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Payment struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	PropertyID string    `json:"propertyId"`
	Amount     int64     `json:"amount"`
	Method     string    `json:"method"`
	Reference  string    `json:"reference"`
	RecordedBy string    `json:"recordedBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Due is an outstanding charge against a tenant, derived from invoices and
// recorded payments.
type Due struct {
	TenantID string    `json:"tenantId"`
	Amount   int64     `json:"amount"`
	DueAt    time.Time `json:"dueAt"`
	Label    string    `json:"label"`
}

const (
	InvoiceOpen    = "open"
	InvoicePaid    = "paid"
	InvoiceOverdue = "overdue"
	InvoiceVoid    = "void"
)

type Invoice struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	DueAt     time.Time `json:"dueAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// PaymentMethods lists the accepted values for Payment.Method.
var PaymentMethods = []string{"mpesa", "bank", "card", "cash"}

var (
	ErrAmountNotPositive = errors.New("amount must be positive")
	ErrUnknownMethod     = errors.New("unknown payment method")
	ErrTenantRequired    = errors.New("tenantId required")
)

// ValidatePayment checks a payment submission before it is persisted.
func ValidatePayment(p Payment) error {
	if strings.TrimSpace(p.TenantID) == "" {
		return ErrTenantRequired
	}
	if p.Amount <= 0 {
		return ErrAmountNotPositive
	}
	method := strings.ToLower(strings.TrimSpace(p.Method))
	for _, m := range PaymentMethods {
		if method == m {
			return nil
		}
	}
	return ErrUnknownMethod
}

// InvoiceCanTransition reports whether an invoice may move between statuses.
// Paid and void are terminal.
func InvoiceCanTransition(from, to string) bool {
	switch from {
	case InvoiceOpen:
		return to == InvoicePaid || to == InvoiceOverdue || to == InvoiceVoid
	case InvoiceOverdue:
		return to == InvoicePaid || to == InvoiceVoid
	}
	return false
}
