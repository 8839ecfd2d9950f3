// Package auth resolves client credentials (API keys or JWT bearer
// tokens) to a principal: the tenant, actor and wallet a request acts
// for. Key comparison is constant-time and credentials never reach logs.
package auth
