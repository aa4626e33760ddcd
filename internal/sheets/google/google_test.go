package google

import (
	"context"
	"testing"

	"baoxiao/internal/core"
)

func TestNewFromEnvMissingSpreadsheetID(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")
	if _, err := NewFromEnv(context.Background()); err == nil {
		t.Fatal("expected error without GOOGLE_SPREADSHEET_ID")
	}
}

func TestNewFromEnvMissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "sheet-id")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	if _, err := NewFromEnv(context.Background()); err == nil {
		t.Fatal("expected error without credentials")
	}
}

func TestClaimRows(t *testing.T) {
	claim := core.Claim{
		EmployeeName: "张三",
		Total:        core.Money{Cents: 3000},
		Invoices: []core.Invoice{
			{InvDate: "2024-01-01", Seller: "公司A", Amount: core.Money{Cents: 1000}},
			{InvDate: "2024-01-02", Seller: "公司B", Amount: core.Money{Cents: 2000}},
		},
	}

	rows := ClaimRows(claim)
	if len(rows) != 3 {
		t.Fatalf("expected 2 invoice rows + subtotal, got %d", len(rows))
	}
	if rows[0][0] != 1 || rows[1][0] != 2 {
		t.Fatalf("sequence numbers wrong: %v %v", rows[0][0], rows[1][0])
	}
	if rows[2][1] != "报销单汇总金额：￥30.00" {
		t.Fatalf("unexpected subtotal cell: %v", rows[2][1])
	}
}
