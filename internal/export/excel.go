// Package export renders claims into the reimbursement summary workbook.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"baoxiao/internal/core"
)

const sheetName = "报销汇总"

var headers = []string{"序号", "报销人姓名", "开票日期", "销售方", "科目", "内容", "金额"}

// Column width presentation hints, A through G.
var columnWidths = []float64{8, 15, 15, 30, 15, 30, 12}

// Filename returns the download name for an export generated at t,
// e.g. 报销汇总_20240315.xlsx.
func Filename(t time.Time) string {
	return "报销汇总_" + t.Format("20060102") + ".xlsx"
}

// Workbook renders the claims, in the given order, into a single-sheet
// xlsx workbook. Each claim contributes one row per invoice (sequence
// numbers restarting at 1, invoices in the claim's stored date-ascending
// order), followed by a subtotal row merged and centered across the
// value columns, followed by one blank separator row.
//
// Callers resolve claim ids beforehand and silently drop stale ones; an
// empty slice still yields a header-only workbook.
func Workbook(claims []core.Claim) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	centered, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}

	row := 2
	for _, claim := range claims {
		for i, inv := range claim.Invoices {
			values := []any{
				i + 1,
				claim.EmployeeName,
				inv.InvDate,
				inv.Seller,
				inv.Category,
				inv.Content,
				inv.Amount.Yuan(),
			}
			for col, v := range values {
				cell, err := excelize.CoordinatesToCellName(col+1, row)
				if err != nil {
					return nil, fmt.Errorf("invoice cell: %w", err)
				}
				if err := f.SetCellValue(sheetName, cell, v); err != nil {
					return nil, fmt.Errorf("write invoice row: %w", err)
				}
			}
			row++
		}

		if err := writeSubtotalRow(f, row, claim.Total, centered); err != nil {
			return nil, err
		}
		// Subtotal plus one blank separator row
		row += 2
	}

	for col, width := range columnWidths {
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, fmt.Errorf("column name: %w", err)
		}
		if err := f.SetColWidth(sheetName, name, name, width); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}

func writeSubtotalRow(f *excelize.File, row int, total core.Money, styleID int) error {
	aCell := fmt.Sprintf("A%d", row)
	bCell := fmt.Sprintf("B%d", row)
	gCell := fmt.Sprintf("G%d", row)

	if err := f.SetCellValue(sheetName, aCell, "总金额"); err != nil {
		return fmt.Errorf("write subtotal label: %w", err)
	}
	if err := f.SetCellValue(sheetName, bCell, "报销单汇总金额："+core.FormatYuan(total.Cents)); err != nil {
		return fmt.Errorf("write subtotal value: %w", err)
	}
	if err := f.MergeCell(sheetName, bCell, gCell); err != nil {
		return fmt.Errorf("merge subtotal cells: %w", err)
	}
	if err := f.SetCellStyle(sheetName, aCell, bCell, styleID); err != nil {
		return fmt.Errorf("style subtotal row: %w", err)
	}
	return nil
}
