// Package secrets resolves provider credentials and other sensitive values
// by reference. Configuration carries only secret names; values live in a
// backend (environment, file) and are fetched on demand through a chained
// manager with a TTL cache. Secret values are never logged.
package secrets
