package broker

import (
	"strconv"
	"sync/atomic"
)

// IDGenerator allocates monotone session ids, unique within a process run.
// Both endpoints share one generator owned by the root server context.
type IDGenerator struct {
	next atomic.Uint64
}

// Next returns the next id, formatted as a decimal string. The first id is "1".
func (g *IDGenerator) Next() string {
	return strconv.FormatUint(g.next.Add(1), 10)
}
