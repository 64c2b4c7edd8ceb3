package claim

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	klog "github.com/Klingon-tech/klingdrop/internal/log"
)

// Result is the result of one claim in a batch.
type Result struct {
	Drop    Drop
	Outcome *Outcome
	Err     error
}

// ClaimAll settles drops concurrently. Each drop must use a different
// funding address. Results are in the order of drops; a failed claim does
// not stop the others.
func (c *Claimer) ClaimAll(ctx context.Context, drops []Drop) ([]Result, error) {
	seen := make(map[string]int, len(drops))
	for i, d := range drops {
		if j, ok := seen[d.FundingAddress]; ok {
			return nil, fmt.Errorf("%w: %s (drops %d and %d)", ErrDuplicateFunding, d.FundingAddress, j, i)
		}
		seen[d.FundingAddress] = i
	}

	results := make([]Result, len(drops))
	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for i, d := range drops {
		g.Go(func() error {
			out, err := c.Claim(ctx, d)
			results[i] = Result{Drop: d, Outcome: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	klog.Claim.Info().
		Int("claims", len(drops)).
		Int("failed", failed).
		Msg("Batch finished")
	return results, nil
}
