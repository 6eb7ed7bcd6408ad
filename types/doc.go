// Package types defines the shared data model of batchflow: work units,
// batches and their state machine, the core runtime configuration, metric
// records, alerts, and the structured error type used across packages.
//
// The package has no dependencies on other batchflow packages so that every
// component (classifier, assembler, executor, ledger, optimizer) can exchange
// values without import cycles.
package types
