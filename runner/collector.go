package runner

import (
	"sync"

	"github.com/starry-os/infra/os-acceptor/types"
)

// resultCollector buffers case results keyed by manifest index so they are
// always reported in declaration order, even when cases execute concurrently.
// Appends are serialized; the golden template is the only other shared
// resource and it is read-only.
type resultCollector struct {
	mu      sync.Mutex
	slots   []*types.CaseResult
	attempt []bool
}

func newResultCollector(n int) *resultCollector {
	return &resultCollector{
		slots:   make([]*types.CaseResult, n),
		attempt: make([]bool, n),
	}
}

// Add records the result for the case at the given manifest index.
func (c *resultCollector) Add(index int, result types.CaseResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[index] = &result
	c.attempt[index] = true
}

// Ordered returns the collected results in manifest order. Cases never
// attempted (run aborted before reaching them) are omitted.
func (c *resultCollector) Ordered() []types.CaseResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.CaseResult, 0, len(c.slots))
	for i, r := range c.slots {
		if c.attempt[i] && r != nil {
			out = append(out, *r)
		}
	}
	return out
}
