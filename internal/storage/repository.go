// Package storage persists invoices and claims in SQLite.
//
// Every claim-level operation that touches more than one row (create,
// merge, delete) runs inside a single transaction so an invoice can
// never be left pointing at a deleted claim.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"baoxiao/internal/core"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a referenced invoice or claim does not exist.
var ErrNotFound = errors.New("not found")

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// --- Invoice operations ---

func (r *SQLiteRepository) CreateInvoice(ctx context.Context, inv core.Invoice) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO invoices (inv_date, seller, amount_cents, category, content, claimant, file_path, claim_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		inv.InvDate, inv.Seller, inv.Amount.Cents, inv.Category, inv.Content, inv.Claimant, inv.FilePath)
	if err != nil {
		return 0, fmt.Errorf("create invoice: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("invoice insert id: %w", err)
	}

	slog.InfoContext(ctx, "Invoice saved",
		"id", id,
		"seller", inv.Seller,
		"amount_cents", inv.Amount.Cents,
		"inv_date", inv.InvDate)

	return id, nil
}

// CreateInvoices inserts a reviewed batch in one transaction, so a
// mid-batch failure commits nothing. Returns the new ids in input order.
func (r *SQLiteRepository) CreateInvoices(ctx context.Context, invs []core.Invoice) ([]int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create invoices: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(invs))
	for _, inv := range invs {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO invoices (inv_date, seller, amount_cents, category, content, claimant, file_path, claim_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
			inv.InvDate, inv.Seller, inv.Amount.Cents, inv.Category, inv.Content, inv.Claimant, inv.FilePath)
		if err != nil {
			return nil, fmt.Errorf("create invoice in batch: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("invoice insert id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create invoices: %w", err)
	}

	slog.InfoContext(ctx, "Invoice batch saved", "count", len(ids))
	return ids, nil
}

// UpdateInvoiceDetail mutates the editable fields only. Date, seller
// and the stored-file reference are immutable after creation.
func (r *SQLiteRepository) UpdateInvoiceDetail(ctx context.Context, id int64, amount core.Money, category, content, claimant string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE invoices SET amount_cents = ?, category = ?, content = ?, claimant = ? WHERE id = ?`,
		amount.Cents, category, content, claimant, id)
	if err != nil {
		return fmt.Errorf("update invoice detail: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update invoice rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteInvoice removes the record unconditionally; deleting an absent
// invoice is a no-op.
func (r *SQLiteRepository) DeleteInvoice(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetInvoice(ctx context.Context, id int64) (core.Invoice, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, inv_date, seller, amount_cents, category, content, claimant, file_path, claim_id
		 FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Invoice{}, ErrNotFound
	}
	if err != nil {
		return core.Invoice{}, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

// ListUnclaimedInvoices returns invoices with no claim reference,
// ordered by invoicing date ascending.
func (r *SQLiteRepository) ListUnclaimedInvoices(ctx context.Context) ([]core.Invoice, error) {
	return r.listInvoices(ctx,
		`SELECT id, inv_date, seller, amount_cents, category, content, claimant, file_path, claim_id
		 FROM invoices WHERE claim_id IS NULL ORDER BY inv_date ASC, id ASC`)
}

func (r *SQLiteRepository) ListInvoicesByClaim(ctx context.Context, claimID int64) ([]core.Invoice, error) {
	return r.listInvoices(ctx,
		`SELECT id, inv_date, seller, amount_cents, category, content, claimant, file_path, claim_id
		 FROM invoices WHERE claim_id = ? ORDER BY inv_date ASC, id ASC`, claimID)
}

// UnclaimedFilterValues returns the distinct non-empty category and
// claimant values across unclaimed invoices, for the review page filters.
func (r *SQLiteRepository) UnclaimedFilterValues(ctx context.Context) (categories, claimants []string, err error) {
	categories, err = r.distinctUnclaimed(ctx, "category")
	if err != nil {
		return nil, nil, fmt.Errorf("distinct categories: %w", err)
	}
	claimants, err = r.distinctUnclaimed(ctx, "claimant")
	if err != nil {
		return nil, nil, fmt.Errorf("distinct claimants: %w", err)
	}
	return categories, claimants, nil
}

func (r *SQLiteRepository) distinctUnclaimed(ctx context.Context, column string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT `+column+` FROM invoices WHERE claim_id IS NULL AND `+column+` != '' ORDER BY `+column)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (r *SQLiteRepository) listInvoices(ctx context.Context, query string, args ...any) ([]core.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []core.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (core.Invoice, error) {
	var inv core.Invoice
	var claimID sql.NullInt64
	err := row.Scan(&inv.ID, &inv.InvDate, &inv.Seller, &inv.Amount.Cents,
		&inv.Category, &inv.Content, &inv.Claimant, &inv.FilePath, &claimID)
	if err != nil {
		return core.Invoice{}, err
	}
	if claimID.Valid {
		inv.ClaimID = &claimID.Int64
	}
	return inv, nil
}

// --- Claim operations ---

// CreateClaim inserts a claim for the employee, reassigns the named
// invoices to it and caches the sum of their amounts as the claim
// total, all in one transaction. Every invoice id must exist.
func (r *SQLiteRepository) CreateClaim(ctx context.Context, employeeName string, invoiceIDs []int64) (core.Claim, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Claim{}, fmt.Errorf("begin create claim: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO claims (employee_name, total_cents, claim_date, create_time) VALUES (?, 0, '', ?)`,
		employeeName, now)
	if err != nil {
		return core.Claim{}, fmt.Errorf("insert claim: %w", err)
	}
	claimID, err := res.LastInsertId()
	if err != nil {
		return core.Claim{}, fmt.Errorf("claim insert id: %w", err)
	}

	in, args := placeholders(invoiceIDs)

	upd, err := tx.ExecContext(ctx,
		`UPDATE invoices SET claim_id = ? WHERE id IN (`+in+`)`,
		append([]any{claimID}, args...)...)
	if err != nil {
		return core.Claim{}, fmt.Errorf("reassign invoices: %w", err)
	}
	reassigned, err := upd.RowsAffected()
	if err != nil {
		return core.Claim{}, fmt.Errorf("reassign rows affected: %w", err)
	}
	if reassigned != int64(len(invoiceIDs)) {
		return core.Claim{}, fmt.Errorf("reassign invoices: %w", ErrNotFound)
	}

	var total int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM invoices WHERE claim_id = ?`, claimID).Scan(&total); err != nil {
		return core.Claim{}, fmt.Errorf("sum claim total: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE claims SET total_cents = ? WHERE id = ?`, total, claimID); err != nil {
		return core.Claim{}, fmt.Errorf("store claim total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Claim{}, fmt.Errorf("commit create claim: %w", err)
	}

	slog.InfoContext(ctx, "Claim created",
		"id", claimID,
		"employee", employeeName,
		"invoices", len(invoiceIDs),
		"total_cents", total)

	return core.Claim{
		ID:           claimID,
		EmployeeName: employeeName,
		Total:        core.Money{Cents: total},
		CreateTime:   now,
	}, nil
}

// MergeClaims consolidates same-employee claims among the given ids.
//
// Claims are resolved in ascending id order (the natural retrieval
// order) and grouped by employee name. In each group of two or more the
// first claim becomes the primary: the other members' invoices are
// reassigned to it in bulk, its total becomes the sum of the group's
// cached totals, and the other members are deleted. Groups of one are
// left untouched. All groups commit as one unit.
//
// The returned ids are the primaries of the groups that actually merged.
func (r *SQLiteRepository) MergeClaims(ctx context.Context, claimIDs []int64) ([]int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin merge claims: %w", err)
	}
	defer tx.Rollback()

	in, args := placeholders(claimIDs)
	rows, err := tx.QueryContext(ctx,
		`SELECT id, employee_name, total_cents FROM claims WHERE id IN (`+in+`) ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("load claims to merge: %w", err)
	}

	type member struct {
		id    int64
		total int64
	}
	groups := make(map[string][]member)
	var order []string // employee names in first-seen order
	for rows.Next() {
		var m member
		var name string
		if err := rows.Scan(&m.id, &name, &m.total); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		if _, seen := groups[name]; !seen {
			order = append(order, name)
		}
		groups[name] = append(groups[name], m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}

	var merged []int64
	for _, name := range order {
		group := groups[name]
		if len(group) < 2 {
			continue
		}

		primary := group[0]
		others := group[1:]
		otherIDs := make([]int64, len(others))
		// Sum of pre-merge cached totals, not a recompute from invoices.
		total := primary.total
		for i, o := range others {
			otherIDs[i] = o.id
			total += o.total
		}

		oin, oargs := placeholders(otherIDs)
		if _, err := tx.ExecContext(ctx,
			`UPDATE invoices SET claim_id = ? WHERE claim_id IN (`+oin+`)`,
			append([]any{primary.id}, oargs...)...); err != nil {
			return nil, fmt.Errorf("reassign invoices to primary: %w", err)
		}
		// Membership and total changed, so the mirror row is stale even
		// if the primary was synced before; the pending scan must see it
		// again in case the sync message is lost.
		if _, err := tx.ExecContext(ctx,
			`UPDATE claims SET total_cents = ?, sync_status = 'pending', synced_at = NULL WHERE id = ?`,
			total, primary.id); err != nil {
			return nil, fmt.Errorf("store merged total: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM claims WHERE id IN (`+oin+`)`, oargs...); err != nil {
			return nil, fmt.Errorf("delete merged claims: %w", err)
		}

		slog.InfoContext(ctx, "Claims merged",
			"employee", name,
			"primary", primary.id,
			"absorbed", len(others),
			"total_cents", total)

		merged = append(merged, primary.id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit merge claims: %w", err)
	}
	return merged, nil
}

// DeleteClaim detaches every owned invoice before removing the claim
// record, so the invoices reappear in the unclaimed listing.
func (r *SQLiteRepository) DeleteClaim(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete claim: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE invoices SET claim_id = NULL WHERE claim_id = ?`, id); err != nil {
		return fmt.Errorf("detach invoices: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM claims WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete claim rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete claim: %w", err)
	}

	slog.InfoContext(ctx, "Claim deleted", "id", id)
	return nil
}

func (r *SQLiteRepository) UpdateClaimDate(ctx context.Context, id int64, date string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE claims SET claim_date = ? WHERE id = ?`, date, id)
	if err != nil {
		return fmt.Errorf("update claim date: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update claim date rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetClaim(ctx context.Context, id int64) (core.Claim, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, employee_name, total_cents, claim_date, create_time FROM claims WHERE id = ?`, id)
	var c core.Claim
	err := row.Scan(&c.ID, &c.EmployeeName, &c.Total.Cents, &c.ClaimDate, &c.CreateTime)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Claim{}, ErrNotFound
	}
	if err != nil {
		return core.Claim{}, fmt.Errorf("get claim: %w", err)
	}
	return c, nil
}

// GetClaimWithInvoices loads a claim and its invoices in stored order
// (invoicing date ascending).
func (r *SQLiteRepository) GetClaimWithInvoices(ctx context.Context, id int64) (core.Claim, error) {
	c, err := r.GetClaim(ctx, id)
	if err != nil {
		return core.Claim{}, err
	}
	invoices, err := r.ListInvoicesByClaim(ctx, id)
	if err != nil {
		return core.Claim{}, err
	}
	c.Invoices = invoices
	return c, nil
}

// ListClaims returns all claims with their invoices, newest first.
func (r *SQLiteRepository) ListClaims(ctx context.Context) ([]core.Claim, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, employee_name, total_cents, claim_date, create_time FROM claims ORDER BY create_time DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	var claims []core.Claim
	for rows.Next() {
		var c core.Claim
		if err := rows.Scan(&c.ID, &c.EmployeeName, &c.Total.Cents, &c.ClaimDate, &c.CreateTime); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}

	for i := range claims {
		invoices, err := r.ListInvoicesByClaim(ctx, claims[i].ID)
		if err != nil {
			return nil, err
		}
		claims[i].Invoices = invoices
	}
	return claims, nil
}

// --- Sync state for the Sheets mirror worker ---

// GetPendingSyncClaims returns ids of claims not yet mirrored.
func (r *SQLiteRepository) GetPendingSyncClaims(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM claims WHERE sync_status = 'pending' ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync claims: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending claim id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteRepository) MarkClaimSynced(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE claims SET sync_status = 'synced', synced_at = ? WHERE id = ?`, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark claim synced: %w", err)
	}
	slog.InfoContext(ctx, "Claim marked as synced", "id", id)
	return nil
}

func (r *SQLiteRepository) MarkClaimSyncError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE claims SET sync_status = 'error' WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark claim sync error: %w", err)
	}
	slog.WarnContext(ctx, "Claim marked with sync error", "id", id)
	return nil
}

// placeholders builds an "?, ?, ?" list and the matching args slice.
func placeholders(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}
