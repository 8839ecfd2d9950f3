// Package handlers implements the client-facing endpoints: chat
// completions (streaming and non-streaming), legacy completions,
// embeddings, wallet balance, cost analytics and the administrative
// routing/policy endpoints.
//
// The chat path orchestrates the full request lifecycle: policy
// evaluation, semantic cache lookup, routing with failover, wallet
// reserve/commit/release, ledger append and analytics publication.
// Settlement always commits the wallet before appending the ledger
// record, so an audit can never observe a charge without its commit.
package handlers
