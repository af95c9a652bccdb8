// Package ledger is the boundary to the external shipment ledger. The ledger
// client itself lives elsewhere; this package defines what it accepts and
// drives submission of processed records through it.
package ledger

import (
	"context"
	"fmt"
	"log"
)

// Shipment is one processed record as the ledger contract takes it.
type Shipment struct {
	Name          string
	Origin        string
	Destination   string
	ScheduledDays int64
	OrderTotal    int64
}

// Receipt acknowledges an accepted submission.
type Receipt struct {
	TxHash string
	Block  uint64
}

// Submitter sends one shipment and waits for its acknowledgment. Failures
// are opaque to callers.
type Submitter interface {
	Submit(ctx context.Context, s Shipment) (Receipt, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, s Shipment) (Receipt, error)

// Submit calls f.
func (f SubmitterFunc) Submit(ctx context.Context, s Shipment) (Receipt, error) { return f(ctx, s) }

// Result tallies a SubmitAll call.
type Result struct {
	Confirmed int
	Failed    int
	Receipts  []Receipt
	// Errors holds the first failures, at most maxErrors.
	Errors []error
}

const maxErrors = 20

// SubmitAll submits each shipment once, in order. A failed submission is
// counted and logged, never retried. It stops early only when ctx is done,
// returning ctx's error with the partial result.
func SubmitAll(ctx context.Context, sub Submitter, shipments []Shipment) (Result, error) {
	var res Result
	for i, s := range shipments {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rcpt, err := sub.Submit(ctx, s)
		if err != nil {
			res.Failed++
			if len(res.Errors) < maxErrors {
				res.Errors = append(res.Errors, fmt.Errorf("shipment %d (%q): %w", i, s.Name, err))
			}
			log.Printf("ledger: submit #%d name=%q failed: %v", i, s.Name, err)
			continue
		}
		res.Confirmed++
		res.Receipts = append(res.Receipts, rcpt)
	}
	log.Printf("ledger: confirmed=%d failed=%d", res.Confirmed, res.Failed)
	return res, nil
}
