// Package batcher groups inbound units into right-sized, time-bounded
// batches and dispatches them to an external processing callback.
//
// The Manager is the public surface: Accept places or bypasses units,
// FlushAll drains pending batches, Shutdown stops the background sweeper and
// waits for in-flight work. A batch reaches the Executor exactly once,
// whether it filled up, expired under the sweeper, carried a bypassed unit,
// or was flushed.
package batcher
