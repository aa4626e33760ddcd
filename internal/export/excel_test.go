package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"baoxiao/internal/core"
)

func TestFilename(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	if got := Filename(at); got != "报销汇总_20240315.xlsx" {
		t.Fatalf("unexpected filename %q", got)
	}
}

func TestWorkbookLayout(t *testing.T) {
	claims := []core.Claim{
		{
			EmployeeName: "张三",
			Total:        core.Money{Cents: 3000},
			Invoices: []core.Invoice{
				{InvDate: "2024-01-01", Seller: "公司A", Category: "差旅", Content: "打车", Amount: core.Money{Cents: 1000}},
				{InvDate: "2024-01-05", Seller: "公司B", Amount: core.Money{Cents: 2000}},
			},
		},
		{
			EmployeeName: "李四",
			Total:        core.Money{Cents: 500},
			Invoices: []core.Invoice{
				{InvDate: "2024-02-01", Seller: "公司C", Amount: core.Money{Cents: 500}},
			},
		},
	}

	buf, err := Workbook(claims)
	if err != nil {
		t.Fatalf("build workbook: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	get := func(cell string) string {
		t.Helper()
		v, err := f.GetCellValue("报销汇总", cell)
		if err != nil {
			t.Fatalf("read %s: %v", cell, err)
		}
		return v
	}

	// Header row
	if get("A1") != "序号" || get("G1") != "金额" {
		t.Fatalf("unexpected header: %q %q", get("A1"), get("G1"))
	}

	// First claim's invoices, sequence starting at 1
	if get("A2") != "1" || get("B2") != "张三" || get("D2") != "公司A" {
		t.Fatalf("unexpected row 2: %q %q %q", get("A2"), get("B2"), get("D2"))
	}
	if get("A3") != "2" {
		t.Fatalf("expected sequence 2 on row 3, got %q", get("A3"))
	}

	// Subtotal row then blank separator
	if get("A4") != "总金额" || get("B4") != "报销单汇总金额：￥30.00" {
		t.Fatalf("unexpected subtotal row: %q %q", get("A4"), get("B4"))
	}
	if get("A5") != "" {
		t.Fatalf("expected blank separator on row 5, got %q", get("A5"))
	}

	// Second claim restarts the sequence at 1
	if get("A6") != "1" || get("B6") != "李四" {
		t.Fatalf("unexpected row 6: %q %q", get("A6"), get("B6"))
	}
	if get("B7") != "报销单汇总金额：￥5.00" {
		t.Fatalf("unexpected second subtotal: %q", get("B7"))
	}
}

func TestWorkbookEmptyClaimsHeaderOnly(t *testing.T) {
	buf, err := Workbook(nil)
	if err != nil {
		t.Fatalf("build workbook: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("报销汇总")
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected header only, got %d rows", len(rows))
	}
}
