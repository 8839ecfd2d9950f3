// Package cache implements the tenant-scoped semantic response cache.
//
// Lookups try an exact match on the normalized prompt hash first, then a
// nearest-neighbor search over the tenant's embedding index. Entries are
// never shared across tenants, expire by TTL, and are evicted LRU within
// a per-tenant budget. Responses that were redacted or rerouted by policy
// are never served from cache; the caller enforces that rail before
// lookup.
package cache
