package models

import "testing"

func TestValidatePayment(t *testing.T) {
	base := Payment{TenantID: "t-1", Amount: 1500, Method: "mpesa"}
	if err := ValidatePayment(base); err != nil {
		t.Fatalf("valid payment rejected: %+v", err)
	}

	p := base
	p.TenantID = "  "
	if err := ValidatePayment(p); err != ErrTenantRequired {
		t.Fatalf("expected ErrTenantRequired, got %+v", err)
	}

	p = base
	p.Amount = 0
	if err := ValidatePayment(p); err != ErrAmountNotPositive {
		t.Fatalf("expected ErrAmountNotPositive, got %+v", err)
	}

	p = base
	p.Method = "barter"
	if err := ValidatePayment(p); err != ErrUnknownMethod {
		t.Fatalf("expected ErrUnknownMethod, got %+v", err)
	}

	p = base
	p.Method = " Bank "
	if err := ValidatePayment(p); err != nil {
		t.Fatalf("method should be case and space insensitive: %+v", err)
	}
}

func TestInvoiceCanTransition(t *testing.T) {
	allowed := [][2]string{
		{InvoiceOpen, InvoicePaid},
		{InvoiceOpen, InvoiceOverdue},
		{InvoiceOpen, InvoiceVoid},
		{InvoiceOverdue, InvoicePaid},
		{InvoiceOverdue, InvoiceVoid},
	}
	for _, tr := range allowed {
		if !InvoiceCanTransition(tr[0], tr[1]) {
			t.Fatalf("%s -> %s should be allowed", tr[0], tr[1])
		}
	}
	denied := [][2]string{
		{InvoicePaid, InvoiceOpen},
		{InvoiceVoid, InvoiceOpen},
		{InvoiceOverdue, InvoiceOpen},
		{InvoicePaid, InvoiceVoid},
	}
	for _, tr := range denied {
		if InvoiceCanTransition(tr[0], tr[1]) {
			t.Fatalf("%s -> %s should be denied", tr[0], tr[1])
		}
	}
}
