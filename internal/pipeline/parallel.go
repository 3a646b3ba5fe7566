package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunYears processes years with up to Options.Workers in flight. Results
// are returned in input order. Years that were already published are not
// failures; every other failure is collected and joined.
func (p *Pipeline) RunYears(ctx context.Context, years []int) ([]*Result, error) {
	start := time.Now()
	results := make([]*Result, len(years))
	errs := make([]error, len(years))

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i, year := range years {
		i, year := i, year
		g.Go(func() error {
			res, err := p.Run(ctx, year)
			results[i] = res
			if err != nil && !errors.Is(err, ErrAlreadyPublished) {
				errs[i] = fmt.Errorf("year %d: %w", year, err)
			}
			// a failed year does not cancel the others
			return nil
		})
	}
	_ = g.Wait()

	var published, skipped, failed int
	for i := range years {
		switch {
		case errs[i] != nil:
			failed++
		case results[i] != nil && results[i].Skipped:
			skipped++
		default:
			published++
		}
	}
	p.log.Info("run complete",
		"years", len(years),
		"published", published,
		"skipped", skipped,
		"failed", failed,
		"duration", time.Since(start).String(),
	)
	return results, errors.Join(errs...)
}
