package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"baoxiao/internal/core"
	"baoxiao/internal/export"
	"baoxiao/internal/storage"
)

// handleCreateClaim groups the selected invoices into a claim for one
// employee. Missing name or empty selection just sends the user back to
// the review page.
func (s *Server) handleCreateClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	employeeName := r.FormValue("employee_name")
	invoiceIDs := formIDs(r.Form["selected_invoices"])

	claim, err := s.claims.CreateClaim(ctx, employeeName, invoiceIDs)
	if errors.Is(err, core.ErrEmployeeNameRequired) || errors.Is(err, core.ErrNoInvoicesSelected) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if errors.Is(err, storage.ErrNotFound) {
		// An invoice vanished between page load and submit
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create claim", "employee", employeeName, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "Claim created",
		"id", claim.ID,
		"employee", claim.EmployeeName,
		"invoices", len(invoiceIDs),
		"total_cents", claim.Total.Cents)
	http.Redirect(w, r, "/output", http.StatusFound)
}

// handleMergeClaims merges the selected claims per employee. Fewer than
// two selections is a no-op redirect.
func (s *Server) handleMergeClaims(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	claimIDs := formIDs(r.Form["selected_claims"])

	err := s.claims.MergeClaims(ctx, claimIDs)
	if errors.Is(err, core.ErrTooFewClaims) {
		http.Redirect(w, r, "/output", http.StatusFound)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to merge claims", "ids", claimIDs, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/output", http.StatusFound)
}

// handleDeleteClaim removes a claim; its invoices return to the unclaimed
// pool.
func (s *Server) handleDeleteClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	id, ok := pathID(r.URL.Path, "/delete_claim/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	err := s.claims.DeleteClaim(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "报销单不存在", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to delete claim", "id", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/output", http.StatusFound)
}

type updateClaimDateRequest struct {
	ID        int64  `json:"id"`
	ClaimDate string `json:"date"`
}

func (s *Server) handleUpdateClaimDate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	var req updateClaimDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.claims.UpdateClaimDate(ctx, req.ID, req.ClaimDate)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "报销单不存在")
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to update claim date", "id", req.ID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to update claim date")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	claims, err := s.repo.ListClaims(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list claims", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	data := struct {
		Claims []core.Claim
	}{claims}

	if err := s.templates.ExecuteTemplate(w, "output.html", data); err != nil {
		slog.ErrorContext(ctx, "Failed to render output", "error", err)
	}
}

// handleExportExcel builds the workbook for the selected claims and sends
// it as a download. Claims deleted since the page loaded are skipped.
func (s *Server) handleExportExcel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	claimIDs := formIDs(r.Form["selected_claims"])
	if len(claimIDs) == 0 {
		http.Error(w, "请至少选择一个报销单", http.StatusBadRequest)
		return
	}

	claims := make([]core.Claim, 0, len(claimIDs))
	for _, id := range claimIDs {
		claim, err := s.repo.GetClaimWithInvoices(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			slog.WarnContext(ctx, "Skipping missing claim in export", "id", id)
			continue
		}
		if err != nil {
			slog.ErrorContext(ctx, "Failed to load claim for export", "id", id, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		claims = append(claims, claim)
	}

	buf, err := export.Workbook(claims)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to build workbook", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	filename := export.Filename(time.Now())
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(filename))
	if _, err := buf.WriteTo(w); err != nil {
		slog.ErrorContext(ctx, "Failed to write workbook response", "error", err)
	}

	slog.InfoContext(ctx, "Workbook exported", "claims", len(claims), "filename", filename)
}
