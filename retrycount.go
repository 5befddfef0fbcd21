package gateway

// RetryCounters tracks how many times each node has been rerouted to as a
// feedback target within one workflow instance. The counters are part of
// per-instance state and are checkpointed with it; together with each node's
// retry bound they guarantee that every instance terminates.
type RetryCounters struct {
	counts map[string]int
}

// NewRetryCounters creates an empty set of counters.
func NewRetryCounters() *RetryCounters {
	return &RetryCounters{counts: map[string]int{}}
}

// Increment bumps the counter for a node and returns the new value.
func (r *RetryCounters) Increment(node string) int {
	r.counts[node]++
	return r.counts[node]
}

// Count returns the current counter for a node.
func (r *RetryCounters) Count(node string) int {
	return r.counts[node]
}

// Reset clears the counter for a node.
func (r *RetryCounters) Reset(node string) {
	delete(r.counts, node)
}

// Snapshot returns a copy of the counters for checkpointing.
func (r *RetryCounters) Snapshot() map[string]int {
	c := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		c[k] = v
	}
	return c
}

// Restore replaces the counters from a checkpoint snapshot.
func (r *RetryCounters) Restore(counts map[string]int) {
	r.counts = make(map[string]int, len(counts))
	for k, v := range counts {
		r.counts[k] = v
	}
}
