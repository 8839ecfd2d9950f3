// Package health serves the liveness and readiness endpoints, reporting
// per-component state: connectors, wallet store, ledger and cache.
package health
