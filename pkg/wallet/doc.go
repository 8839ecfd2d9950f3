// Package wallet implements hierarchical budget accounting.
//
// Wallets form a tree (organization → department → team → user or service
// account). Spend is admitted through a reserve/commit/release protocol:
// a reservation atomically increments the in-flight amount on the wallet
// and every ancestor, commit moves the settled amount to spent and returns
// the remainder, and release returns the whole reservation. The invariant
// spent + reserved ≤ hard_limit + overdraft holds on every node, with one
// deliberate exception: a commit settling an in-flight stream may overrun,
// because those tokens are already on the upstream bill.
package wallet
