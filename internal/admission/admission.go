// Package admission bounds the monetary cost of remote queries before they
// run. The metered backend's dry-run probe provides the estimate; if the
// probe itself fails the controller fails closed, because a billing guarantee
// must never be bypassed by an infrastructure hiccup.
package admission

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/medsidd/whyline-denver/internal/engine"
	"github.com/medsidd/whyline-denver/internal/models"
)

// Estimate is the admission decision for one query.
type Estimate struct {
	Engine       string
	Bytes        int64
	CeilingBytes int64
	Metered      bool
}

// Display renders the human-readable cost line the dashboard shows,
// e.g. "3.2 GB of 2.0 GB ceiling".
func (e Estimate) Display() string {
	if !e.Metered {
		return "free (local engine)"
	}
	return fmt.Sprintf("%s of %s ceiling", FormatBytes(e.Bytes), FormatBytes(e.CeilingBytes))
}

// CostExceededError carries both sides of a failed admission so callers can
// display them. It unwraps to the gateway's cost_exceeded error kind.
type CostExceededError struct {
	EstimateBytes int64
	CeilingBytes  int64
	err           *models.QueryError
}

func (e *CostExceededError) Error() string { return e.err.Error() }

func (e *CostExceededError) Unwrap() error { return e.err }

// Controller gates execution on the metered backend.
type Controller struct {
	ceilingBytes int64
}

func NewController(ceilingBytes int64) *Controller {
	return &Controller{ceilingBytes: ceilingBytes}
}

// Admit returns a cost estimate for the query, or an error if the query must
// not run. Unmetered engines are always admitted. No execution occurs here.
func (c *Controller) Admit(ctx context.Context, eng engine.Engine, sql string) (*Estimate, error) {
	est, ok := eng.(engine.Estimator)
	if !ok {
		return &Estimate{Engine: eng.Name()}, nil
	}

	bytes, err := est.EstimateBytes(ctx, sql)
	if err != nil {
		// Fail closed: an unavailable estimate is a rejection, not a free pass.
		log.Warn().Err(err).Str("engine", eng.Name()).Msg("cost probe failed")
		return nil, models.WrapQueryError(models.KindEstimationUnavailable, err,
			"cost estimation is unavailable; the query was not run")
	}

	if bytes > c.ceilingBytes {
		return nil, &CostExceededError{
			EstimateBytes: bytes,
			CeilingBytes:  c.ceilingBytes,
			err: models.NewQueryError(models.KindCostExceeded,
				"query would scan %s, over the %s ceiling",
				FormatBytes(bytes), FormatBytes(c.ceilingBytes)),
		}
	}

	return &Estimate{
		Engine:       eng.Name(),
		Bytes:        bytes,
		CeilingBytes: c.ceilingBytes,
		Metered:      true,
	}, nil
}

const bytesPerGB = 1_000_000_000.0

// FormatBytes renders a byte count for display, using GB for anything a
// warehouse query plausibly scans.
func FormatBytes(b int64) string {
	gb := float64(b) / bytesPerGB
	if gb >= 0.1 {
		return fmt.Sprintf("%.1f GB", gb)
	}
	mb := float64(b) / 1_000_000.0
	if mb >= 0.1 {
		return fmt.Sprintf("%.1f MB", mb)
	}
	return fmt.Sprintf("%d B", b)
}
