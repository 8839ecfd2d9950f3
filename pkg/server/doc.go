// Package server assembles the gateway from configuration: secret store,
// connector registry and prober, router and rules watcher, wallet service
// and reset scheduler, ledger recorder, semantic cache, scanner, policy
// evaluator, rate limiter, analytics sink, telemetry, the middleware
// chain and the HTTP listener with graceful shutdown.
package server
