package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"baoxiao/internal/core"
	"baoxiao/internal/services"
	"baoxiao/internal/storage"
	"baoxiao/internal/upload"
)

func newTestServer(t *testing.T) (*Server, *storage.SQLiteRepository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := storage.NewSQLiteRepository(filepath.Join(dir, "baoxiao.db"))
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	uploads, err := upload.NewStore(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatalf("create upload store: %v", err)
	}

	claims := services.NewClaimService(repo, nil)
	return NewServer(":0", repo, claims, uploads), repo
}

func seedInvoice(t *testing.T, repo *storage.SQLiteRepository, cents int64) int64 {
	t.Helper()
	id, err := repo.CreateInvoice(context.Background(), core.Invoice{
		InvDate: "2024-03-01",
		Seller:  "某某科技公司",
		Amount:  core.Money{Cents: cents},
	})
	if err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
	return id
}

func TestIndexListsUnclaimedInvoices(t *testing.T) {
	s, repo := newTestServer(t)
	seedInvoice(t, repo, 1234)

	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "某某科技公司") {
		t.Fatal("expected unclaimed invoice seller in page")
	}
	if !strings.Contains(rec.Body.String(), "12.34") {
		t.Fatal("expected invoice amount in page")
	}
}

func TestIndexUnknownPathIs404(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUploadBatchXMLUsesFilenameSeller(t *testing.T) {
	s, _ := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("files", "发票(云服务公司).xml")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte(`<?xml version="1.0"?><invoice/>`))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload_batch", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var results []uploadResult
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Seller != "发票(云服务公司)" {
		t.Fatalf("expected seller from filename, got %q", results[0].Seller)
	}
	if results[0].Amount != "0.00" {
		t.Fatalf("expected default amount, got %q", results[0].Amount)
	}
	if results[0].OriginalName != "发票(云服务公司).xml" {
		t.Fatalf("unexpected original name %q", results[0].OriginalName)
	}
	if results[0].Filename == "" || results[0].Filename == results[0].OriginalName {
		t.Fatalf("expected timestamped stored name, got %q", results[0].Filename)
	}
}

func TestUploadBatchNoFiles(t *testing.T) {
	s, _ := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload_batch", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSaveInvoices(t *testing.T) {
	s, repo := newTestServer(t)

	payload := `[{"date":"2024-03-01","seller":"餐饮公司","amount":"88.50","category":"餐费","content":"团队聚餐","claimant":"张三","filename":"x.pdf"}]`
	req := httptest.NewRequest(http.MethodPost, "/save_invoices", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	invoices, err := repo.ListUnclaimedInvoices(context.Background())
	if err != nil {
		t.Fatalf("list invoices: %v", err)
	}
	if len(invoices) != 1 || invoices[0].Amount.Cents != 8850 {
		t.Fatalf("expected one saved invoice at 8850 cents, got %+v", invoices)
	}
}

func TestSaveInvoicesBadAmountRejectsBatch(t *testing.T) {
	s, repo := newTestServer(t)

	payload := `[{"date":"2024-03-01","seller":"A","amount":"10.00"},{"date":"2024-03-02","seller":"B","amount":"abc"}]`
	req := httptest.NewRequest(http.MethodPost, "/save_invoices", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	invoices, _ := repo.ListUnclaimedInvoices(context.Background())
	if len(invoices) != 0 {
		t.Fatalf("nothing should be saved, got %d invoices", len(invoices))
	}
}

func TestUpdateInvoiceDetail(t *testing.T) {
	s, repo := newTestServer(t)
	id := seedInvoice(t, repo, 1000)

	payload, _ := json.Marshal(updateInvoiceRequest{ID: id, Amount: "20.00", Category: "交通", Content: "打车", Claimant: "李四"})
	req := httptest.NewRequest(http.MethodPost, "/update_invoice_detail", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	inv, err := repo.GetInvoice(context.Background(), id)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if inv.Amount.Cents != 2000 || inv.Category != "交通" {
		t.Fatalf("update not applied: %+v", inv)
	}
}

func TestUpdateInvoiceDetailNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	payload := `{"id":9999,"amount":"1.00"}`
	req := httptest.NewRequest(http.MethodPost, "/update_invoice_detail", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteInvoiceRedirects(t *testing.T) {
	s, repo := newTestServer(t)
	id := seedInvoice(t, repo, 1000)

	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/delete_invoice/1", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect to /, got %d %s", rec.Code, rec.Header().Get("Location"))
	}

	if _, err := repo.GetInvoice(context.Background(), id); err == nil {
		t.Fatal("invoice should be gone")
	}
}

func TestCreateClaimFlow(t *testing.T) {
	s, repo := newTestServer(t)
	id := seedInvoice(t, repo, 1234)

	form := url.Values{"employee_name": {"张三"}, "selected_invoices": {"1"}}
	req := httptest.NewRequest(http.MethodPost, "/create_claim", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/output" {
		t.Fatalf("expected redirect to /output, got %d %s", rec.Code, rec.Header().Get("Location"))
	}

	claims, err := repo.ListClaims(context.Background())
	if err != nil {
		t.Fatalf("list claims: %v", err)
	}
	if len(claims) != 1 || claims[0].Total.Cents != 1234 {
		t.Fatalf("expected one claim totalling 1234, got %+v", claims)
	}
	inv, _ := repo.GetInvoice(context.Background(), id)
	if inv.ClaimID == nil || *inv.ClaimID != claims[0].ID {
		t.Fatal("invoice should be attached to the claim")
	}
}

func TestCreateClaimMissingNameRedirectsHome(t *testing.T) {
	s, repo := newTestServer(t)
	seedInvoice(t, repo, 1000)

	form := url.Values{"employee_name": {"  "}, "selected_invoices": {"1"}}
	req := httptest.NewRequest(http.MethodPost, "/create_claim", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect to /, got %d %s", rec.Code, rec.Header().Get("Location"))
	}
	claims, _ := repo.ListClaims(context.Background())
	if len(claims) != 0 {
		t.Fatal("no claim should be created")
	}
}

func TestMergeClaimsTooFewIsNoOpRedirect(t *testing.T) {
	s, _ := newTestServer(t)

	form := url.Values{"selected_claims": {"1"}}
	req := httptest.NewRequest(http.MethodPost, "/merge_claims", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/output" {
		t.Fatalf("expected redirect to /output, got %d %s", rec.Code, rec.Header().Get("Location"))
	}
}

func TestDeleteClaimNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/delete_claim/777", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "报销单不存在") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestUpdateClaimDateNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	payload := `{"id":42,"date":"2024-05-01"}`
	req := httptest.NewRequest(http.MethodPost, "/update_claim_date", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "error" {
		t.Fatalf("expected error status, got %+v", resp)
	}
}

func TestExportExcelEmptySelection(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/export_excel", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestExportExcelSkipsMissingClaims(t *testing.T) {
	s, repo := newTestServer(t)
	seedInvoice(t, repo, 1500)
	claim, err := repo.CreateClaim(context.Background(), "张三", []int64{1})
	if err != nil {
		t.Fatalf("create claim: %v", err)
	}

	form := url.Values{"selected_claims": {"999", strconv.FormatInt(claim.ID, 10)}}
	req := httptest.NewRequest(http.MethodPost, "/export_excel", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Fatalf("unexpected content disposition %q", cd)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected workbook bytes")
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}
}
