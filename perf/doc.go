// Package perf is the self-observation half of batchflow: a ledger of
// processing and OS-level metrics, a sampler feeding it from the operating
// system, threshold alerting, and an optimizer that retunes batch-size,
// cache-size, and timeout knobs from what the ledger has seen.
//
// One Ledger instance owns all mutable shared state (metric ring buffers,
// counters, and the knob table) behind a single mutex; the sampler and
// optimizer are explicit workers started with Start and stopped by
// cancelling their context.
package perf
