// Package logging provides structured logging for the gateway built on
// log/slog. Every log line carries the request correlation id and tenant
// scope when available, and sensitive values (API keys, bearer tokens,
// emails, card numbers) are redacted before they reach the output writer.
package logging
