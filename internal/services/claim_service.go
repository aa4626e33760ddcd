// Package services orchestrates claim operations across storage and AMQP.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"baoxiao/internal/amqp"
	"baoxiao/internal/core"
	"baoxiao/internal/storage"
)

// ClaimService validates aggregator inputs, delegates to the
// transactional repository and publishes sync events for the
// spreadsheet mirror worker.
type ClaimService struct {
	storage    *storage.SQLiteRepository
	amqpClient *amqp.Client
}

func NewClaimService(storage *storage.SQLiteRepository, amqpClient *amqp.Client) *ClaimService {
	return &ClaimService{
		storage:    storage,
		amqpClient: amqpClient,
	}
}

// CreateClaim groups the named unclaimed invoices under a new claim for
// the employee. Empty selections and blank names are rejected before
// anything is written.
func (s *ClaimService) CreateClaim(ctx context.Context, employeeName string, invoiceIDs []int64) (core.Claim, error) {
	if len(invoiceIDs) == 0 {
		return core.Claim{}, core.ErrNoInvoicesSelected
	}
	if strings.TrimSpace(employeeName) == "" {
		return core.Claim{}, core.ErrEmployeeNameRequired
	}

	claim, err := s.storage.CreateClaim(ctx, employeeName, invoiceIDs)
	if err != nil {
		return core.Claim{}, fmt.Errorf("create claim: %w", err)
	}

	s.publishSync(ctx, claim.ID)
	return claim, nil
}

// MergeClaims consolidates same-employee claims among the selection.
// Fewer than two selected claims is a no-op rejection.
func (s *ClaimService) MergeClaims(ctx context.Context, claimIDs []int64) error {
	if len(claimIDs) < 2 {
		return core.ErrTooFewClaims
	}

	merged, err := s.storage.MergeClaims(ctx, claimIDs)
	if err != nil {
		return fmt.Errorf("merge claims: %w", err)
	}

	// Surviving primaries changed membership and totals; re-mirror them.
	for _, id := range merged {
		s.publishSync(ctx, id)
	}
	return nil
}

// DeleteClaim detaches the claim's invoices and removes the record.
func (s *ClaimService) DeleteClaim(ctx context.Context, id int64) error {
	return s.storage.DeleteClaim(ctx, id)
}

// UpdateClaimDate overwrites the claim's free-text date.
func (s *ClaimService) UpdateClaimDate(ctx context.Context, id int64, date string) error {
	return s.storage.UpdateClaimDate(ctx, id, date)
}

func (s *ClaimService) publishSync(ctx context.Context, id int64) {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping sync message", "id", id)
		return
	}
	// Publish failures never fail the request: the claim is committed
	// locally and the worker's pending scan will pick it up later.
	if err := s.amqpClient.PublishClaimSync(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish claim sync message", "id", id, "error", err)
	}
}

// Close closes both storage and AMQP connections.
func (s *ClaimService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close claim service: %v", errs)
	}
	return nil
}
