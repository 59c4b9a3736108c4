package compiler

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

type BatchItem struct {
	Request Request
	Result  Result
	Err     error
}

// CompileBatch compiles independent requests on up to workers goroutines.
// Items come back in request order; one failed compile does not stop the
// others.
func (c *Compiler) CompileBatch(ctx context.Context, reqs []Request, workers int) []BatchItem {
	if workers <= 0 {
		workers = 1
	}
	items := make([]BatchItem, len(reqs))
	p := pool.New().WithMaxGoroutines(workers)
	for i, req := range reqs {
		p.Go(func() {
			result, err := c.Compile(ctx, req)
			items[i] = BatchItem{Request: req, Result: result, Err: err}
		})
	}
	p.Wait()
	return items
}
