package sheets

import (
	"context"

	"baoxiao/internal/core"
)

// Ports for outbound spreadsheet adapters.
type (
	// ClaimWriter mirrors a committed claim (with its invoices) to a
	// shared spreadsheet for the finance team.
	ClaimWriter interface {
		AppendClaim(ctx context.Context, c core.Claim) (rowRef string, err error)
	}
)
