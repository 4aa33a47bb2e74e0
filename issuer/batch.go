package issuer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"xdao.co/license/license"
)

// Failure records a machine id that could not be issued.
type Failure struct {
	// Index is the position of the id in the input.
	Index     int
	MachineID string
	Err       error
}

func (f Failure) Error() string {
	return fmt.Sprintf("#%d %q: %v", f.Index, f.MachineID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// BatchResult is the outcome of IssueBatch.
type BatchResult struct {
	// ID identifies the batch in logs.
	ID       string
	IssuedAt time.Time
	// Licenses maps machine id to its license.
	Licenses map[string]*License
	// Order lists the issued machine ids in input order.
	Order    []string
	Failures []Failure
}

// WriteTo writes one "<machine_id>: <token>" line per issued license, in
// input order.
func (r *BatchResult) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, id := range r.Order {
		n, err := fmt.Fprintf(w, "%s: %s\n", id, r.Licenses[id].Token)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// IssueBatch issues a license for every id, all with the same issued_at.
//
// Entries are independent: a failing id is recorded in Failures and never
// affects the others. Repeated ids are issued once, for their first
// occurrence. An invalid days value fails the whole batch. If ctx is
// cancelled, entries not yet started fail with the context error, which is
// also returned.
func (i *Issuer) IssueBatch(ctx context.Context, ids []string, days int) (*BatchResult, error) {
	if err := license.ValidateDays(days); err != nil {
		return nil, err
	}
	res := &BatchResult{
		ID:       uuid.NewString(),
		IssuedAt: i.clock.Now(),
		Licenses: make(map[string]*License, len(ids)),
	}
	logger := i.log.WithField("batch", res.ID)

	type slot struct {
		lic *License
		err error
		dup bool
	}
	slots := make([]slot, len(ids))
	seen := make(map[string]struct{}, len(ids))

	var g errgroup.Group
	g.SetLimit(i.concurrency)
	for idx, id := range ids {
		if _, ok := seen[id]; ok {
			slots[idx].dup = true
			continue
		}
		seen[id] = struct{}{}

		idx, id := idx, id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				slots[idx].err = err
				return nil
			}
			slots[idx].lic, slots[idx].err = i.IssueAt(id, days, res.IssuedAt)
			return nil
		})
	}
	_ = g.Wait()

	for idx, s := range slots {
		switch {
		case s.dup:
			logger.WithField("machine_id", ids[idx]).Debug("Skipping repeated machine id")
		case s.err != nil:
			res.Failures = append(res.Failures, Failure{Index: idx, MachineID: ids[idx], Err: s.err})
			logger.WithError(s.err).WithField("machine_id", ids[idx]).Warn("Failed to issue license")
		default:
			res.Licenses[ids[idx]] = s.lic
			res.Order = append(res.Order, ids[idx])
		}
	}

	logger.WithFields(logrus.Fields{
		"issued": len(res.Order),
		"failed": len(res.Failures),
		"days":   days,
	}).Info("Issued license batch")
	return res, ctx.Err()
}
