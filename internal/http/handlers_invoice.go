package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"baoxiao/internal/core"
	"baoxiao/internal/extract"
	"baoxiao/internal/storage"
)

// Uploads larger than this are rejected outright.
const maxUploadBytes = 64 << 20

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	invoices, err := s.repo.ListUnclaimedInvoices(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list unclaimed invoices", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	categories, claimants, err := s.repo.UnclaimedFilterValues(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load filter values", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	data := struct {
		Invoices   []core.Invoice
		Categories []string
		Claimants  []string
	}{invoices, categories, claimants}

	if err := s.templates.ExecuteTemplate(w, "input.html", data); err != nil {
		slog.ErrorContext(ctx, "Failed to render index", "error", err)
	}
}

type uploadResult struct {
	Date         string `json:"date"`
	Amount       string `json:"amount"`
	Seller       string `json:"seller"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	Category     string `json:"category"`
	Content      string `json:"content"`
	Claimant     string `json:"claimant"`
}

// handleUploadBatch stores each uploaded document and returns the fields
// extracted from it for review. Extraction never fails a file; unreadable
// documents come back with defaults for the user to fill in.
func (s *Server) handleUploadBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeJSONError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	results := make([]uploadResult, 0, len(files))
	for _, hdr := range files {
		f, err := hdr.Open()
		if err != nil {
			slog.ErrorContext(ctx, "Failed to open uploaded file", "name", hdr.Filename, "error", err)
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read %s", hdr.Filename))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			slog.ErrorContext(ctx, "Failed to read uploaded file", "name", hdr.Filename, "error", err)
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read %s", hdr.Filename))
			return
		}

		stored, err := s.uploads.Save(hdr.Filename, bytes.NewReader(data))
		if err != nil {
			slog.ErrorContext(ctx, "Failed to store uploaded file", "name", hdr.Filename, "error", err)
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to store %s", hdr.Filename))
			return
		}

		fields := extract.FromDocument(data, hdr.Filename)
		results = append(results, uploadResult{
			Date:         fields.Date,
			Amount:       fields.Amount,
			Seller:       fields.Seller,
			Filename:     stored,
			OriginalName: hdr.Filename,
		})

		slog.InfoContext(ctx, "Document uploaded",
			"original_name", hdr.Filename,
			"stored_name", stored,
			"date_found", fields.DateFound,
			"amount_found", fields.AmountFound,
			"seller_found", fields.SellerFound)
	}

	writeJSON(w, http.StatusOK, results)
}

type saveInvoiceItem struct {
	Date     string `json:"date"`
	Seller   string `json:"seller"`
	Amount   string `json:"amount"`
	Category string `json:"category"`
	Content  string `json:"content"`
	Claimant string `json:"claimant"`
	Filename string `json:"filename"`
}

// handleSaveInvoices commits a batch of reviewed invoices. The batch is
// all-or-nothing: a bad amount rejects the whole request before anything
// is written, and the insert itself runs in one transaction.
func (s *Server) handleSaveInvoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	var items []saveInvoiceItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(items) == 0 {
		writeJSONError(w, http.StatusBadRequest, "no invoices to save")
		return
	}

	invoices := make([]core.Invoice, 0, len(items))
	for i, item := range items {
		// An untouched review row comes through with an empty amount
		var cents int64
		if strings.TrimSpace(item.Amount) != "" {
			var err error
			cents, err = core.ParseDecimalToCents(item.Amount)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invoice %d: invalid amount %q", i+1, item.Amount))
				return
			}
		}
		invoices = append(invoices, core.Invoice{
			InvDate:  item.Date,
			Seller:   item.Seller,
			Amount:   core.Money{Cents: cents},
			Category: item.Category,
			Content:  item.Content,
			Claimant: item.Claimant,
			FilePath: item.Filename,
		})
	}

	if _, err := s.repo.CreateInvoices(ctx, invoices); err != nil {
		slog.ErrorContext(ctx, "Failed to save invoice batch", "count", len(invoices), "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to save invoices")
		return
	}

	slog.InfoContext(ctx, "Invoices saved", "count", len(invoices))
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "count": len(invoices)})
}

type updateInvoiceRequest struct {
	ID       int64  `json:"id"`
	Amount   string `json:"amount"`
	Category string `json:"category"`
	Content  string `json:"content"`
	Claimant string `json:"claimant"`
}

// handleUpdateInvoiceDetail edits the user-reviewable fields of one invoice.
// Date and seller stay as extracted.
func (s *Server) handleUpdateInvoiceDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	var req updateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid amount %q", req.Amount))
		return
	}

	err = s.repo.UpdateInvoiceDetail(ctx, req.ID, core.Money{Cents: cents}, req.Category, req.Content, req.Claimant)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "发票不存在")
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to update invoice", "id", req.ID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to update invoice")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// handleDeleteInvoice removes an invoice and sends the browser back to the
// review page. Deleting an already-deleted invoice is not an error.
func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	id, ok := pathID(r.URL.Path, "/delete_invoice/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	if err := s.repo.DeleteInvoice(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to delete invoice", "id", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}
