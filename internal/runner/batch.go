package runner

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunBatch performs independent runs with at most parallel in flight. Each run owns its session
// and directory. Results are returned in request order.
func (c *Coordinator) RunBatch(ctx context.Context, reqs []Request, parallel int) []Result {
	if parallel <= 0 {
		parallel = 1
	}
	results := make([]Result, len(reqs))

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = c.Run(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
