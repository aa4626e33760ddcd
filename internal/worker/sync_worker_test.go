package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"baoxiao/internal/amqp"
	"baoxiao/internal/core"
	"baoxiao/internal/storage"
)

type fakeWriter struct {
	appended []core.Claim
	fail     bool
}

func (f *fakeWriter) AppendClaim(ctx context.Context, c core.Claim) (string, error) {
	if f.fail {
		return "", errors.New("sheet unavailable")
	}
	f.appended = append(f.appended, c)
	return "报销汇总!A1:G3", nil
}

func newTestWorker(t *testing.T, writer *fakeWriter) (*SyncWorker, *storage.SQLiteRepository) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "baoxiao.db"))
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewSyncWorker(repo, writer, 10), repo
}

func createClaim(t *testing.T, repo *storage.SQLiteRepository) core.Claim {
	t.Helper()
	ctx := context.Background()
	id, err := repo.CreateInvoice(ctx, core.Invoice{InvDate: "2024-01-01", Amount: core.Money{Cents: 1000}})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	claim, err := repo.CreateClaim(ctx, "张三", []int64{id})
	if err != nil {
		t.Fatalf("create claim: %v", err)
	}
	return claim
}

func TestHandleSyncMessage(t *testing.T) {
	writer := &fakeWriter{}
	w, repo := newTestWorker(t, writer)
	claim := createClaim(t, repo)

	if err := w.HandleSyncMessage(amqp.NewClaimSyncMessage(claim.ID)); err != nil {
		t.Fatalf("handle sync message: %v", err)
	}
	if len(writer.appended) != 1 || writer.appended[0].ID != claim.ID {
		t.Fatalf("expected claim appended, got %+v", writer.appended)
	}

	pending, _ := repo.GetPendingSyncClaims(context.Background(), 10)
	if len(pending) != 0 {
		t.Fatalf("claim should be marked synced, still pending: %v", pending)
	}
}

func TestHandleSyncMessageMissingClaim(t *testing.T) {
	writer := &fakeWriter{}
	w, _ := newTestWorker(t, writer)

	// A deleted claim is skipped, not retried forever
	if err := w.HandleSyncMessage(amqp.NewClaimSyncMessage(9999)); err != nil {
		t.Fatalf("missing claim should not error: %v", err)
	}
	if len(writer.appended) != 0 {
		t.Fatalf("nothing should be appended, got %+v", writer.appended)
	}
}

func TestProcessPendingClaimsMarksErrorOnFailure(t *testing.T) {
	writer := &fakeWriter{fail: true}
	w, repo := newTestWorker(t, writer)
	claim := createClaim(t, repo)

	if err := w.ProcessPendingClaims(context.Background()); err != nil {
		t.Fatalf("pending scan should swallow per-claim failures: %v", err)
	}

	// Claim moved out of pending into the error state
	pending, _ := repo.GetPendingSyncClaims(context.Background(), 10)
	for _, id := range pending {
		if id == claim.ID {
			t.Fatal("failed claim should no longer be pending")
		}
	}
}

func TestStartupSyncCheck(t *testing.T) {
	writer := &fakeWriter{}
	w, repo := newTestWorker(t, writer)
	createClaim(t, repo)
	createClaim(t, repo)

	if err := w.StartupSyncCheck(context.Background()); err != nil {
		t.Fatalf("startup sync: %v", err)
	}
	if len(writer.appended) != 2 {
		t.Fatalf("expected 2 claims mirrored, got %d", len(writer.appended))
	}
}
