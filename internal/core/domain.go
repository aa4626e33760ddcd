package core

import (
	"errors"
	"strings"
	"time"
)

// UnknownSeller is the sentinel used when a filename carries no
// recognizable seller characters.
const UnknownSeller = "未知销售方"

type (
	Money struct {
		Cents int64
	}

	// Invoice is a single purchase document with extracted or
	// user-edited financial metadata. A nil ClaimID means the invoice
	// is unclaimed.
	Invoice struct {
		ID       int64
		InvDate  string // free text, typically YYYY-MM-DD
		Seller   string
		Amount   Money
		Category string
		Content  string
		Claimant string
		FilePath string
		ClaimID  *int64
	}

	// Claim groups invoices submitted together for reimbursement.
	//
	// Total is a cached value: it is recomputed from invoice amounts at
	// creation and from member claims' cached totals at merge time.
	// Editing an invoice's amount afterwards does not refresh it.
	Claim struct {
		ID           int64
		EmployeeName string
		Total        Money
		ClaimDate    string // free text, independently editable
		CreateTime   time.Time
		Invoices     []Invoice // ordered by InvDate ascending
	}
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrEmployeeNameRequired = errors.New("employee name required")
	ErrNoInvoicesSelected   = errors.New("no invoices selected")
	ErrTooFewClaims         = errors.New("at least two claims required to merge")
	ErrNothingSelected      = errors.New("no claims selected")
)

func (i Invoice) Unclaimed() bool {
	return i.ClaimID == nil
}

// Validate checks the fields a claim must carry before persistence.
func (c Claim) Validate() error {
	if strings.TrimSpace(c.EmployeeName) == "" {
		return ErrEmployeeNameRequired
	}
	return nil
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}
