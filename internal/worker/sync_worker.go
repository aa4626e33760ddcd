// Package worker mirrors committed claims to the shared spreadsheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"baoxiao/internal/amqp"
	"baoxiao/internal/core"
	"baoxiao/internal/sheets"
	"baoxiao/internal/storage"
)

// SyncWorker handles claim-sync messages and runs the pending backup
// scan that recovers claims whose messages were lost.
type SyncWorker struct {
	storage   *storage.SQLiteRepository
	writer    sheets.ClaimWriter
	batchSize int
}

func NewSyncWorker(storage *storage.SQLiteRepository, writer sheets.ClaimWriter, batchSize int) *SyncWorker {
	return &SyncWorker{
		storage:   storage,
		writer:    writer,
		batchSize: batchSize,
	}
}

// HandleSyncMessage processes a single claim sync message from AMQP.
// A claim deleted or merged away between publish and delivery is not
// an error.
func (w *SyncWorker) HandleSyncMessage(msg *amqp.ClaimSyncMessage) error {
	ctx := context.Background()

	slog.InfoContext(ctx, "Processing claim sync message", "id", msg.ID)

	claim, err := w.storage.GetClaimWithInvoices(ctx, msg.ID)
	if errors.Is(err, storage.ErrNotFound) {
		slog.WarnContext(ctx, "Claim no longer exists, skipping sync", "id", msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get claim from storage: %w", err)
	}

	return w.mirrorClaim(ctx, claim)
}

// ProcessPendingClaims mirrors claims that never got a sync message.
// This is a backup mechanism in case AMQP messages are lost.
func (w *SyncWorker) ProcessPendingClaims(ctx context.Context) error {
	pending, err := w.storage.GetPendingSyncClaims(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending claims: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending claims", "count", len(pending))

	for _, id := range pending {
		claim, err := w.storage.GetClaimWithInvoices(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to get pending claim", "id", id, "error", err)
			if markErr := w.storage.MarkClaimSyncError(ctx, id); markErr != nil {
				slog.ErrorContext(ctx, "Failed to mark sync error", "id", id, "error", markErr)
			}
			continue
		}
		if err := w.mirrorClaim(ctx, claim); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror pending claim", "id", id, "error", err)
			continue
		}
	}
	return nil
}

// StartupSyncCheck mirrors any backlog at worker start, recovering from
// missed messages or worker downtime. Uses a larger batch than the
// periodic scan.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	pending, err := w.storage.GetPendingSyncClaims(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending claims for startup check: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending claims found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending claims on startup, processing...", "count", len(pending))

	synced := 0
	failed := 0
	for _, id := range pending {
		claim, err := w.storage.GetClaimWithInvoices(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to get claim for startup sync", "id", id, "error", err)
			failed++
			continue
		}
		if err := w.mirrorClaim(ctx, claim); err != nil {
			slog.ErrorContext(ctx, "Failed to sync claim during startup", "id", id, "error", err)
			failed++
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(pending),
		"synced", synced,
		"errors", failed)
	return nil
}

func (w *SyncWorker) mirrorClaim(ctx context.Context, claim core.Claim) error {
	ref, err := w.writer.AppendClaim(ctx, claim)
	if err != nil {
		if markErr := w.storage.MarkClaimSyncError(ctx, claim.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "id", claim.ID, "error", markErr)
		}
		return fmt.Errorf("append claim to sheet: %w", err)
	}

	if err := w.storage.MarkClaimSynced(ctx, claim.ID); err != nil {
		// The mirror itself worked; log and move on
		slog.ErrorContext(ctx, "Failed to mark claim as synced", "id", claim.ID, "error", err)
	}

	slog.InfoContext(ctx, "Claim mirrored",
		"id", claim.ID,
		"employee", claim.EmployeeName,
		"total_cents", claim.Total.Cents,
		"sheet_ref", ref)
	return nil
}
