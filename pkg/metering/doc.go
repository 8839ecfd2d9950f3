// Package metering counts tokens and computes request costs.
//
// Two counting modes exist. The streaming path uses a conservative
// character-count heuristic so per-chunk accounting stays off the latency
// budget; settlement replaces the estimate with provider-reported usage
// when available, falling back to a tiktoken count otherwise.
package metering
