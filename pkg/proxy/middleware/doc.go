// Package middleware implements the ordered request pipeline:
// authentication, correlation, rate limiting, header normalization,
// timeout enforcement, security scanning and the wallet precheck.
// Each handler may enrich the request context, short-circuit with an
// error envelope, or pass to the next.
package middleware
