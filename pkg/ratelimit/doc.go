// Package ratelimit enforces per-tenant and per-actor request budgets with
// token buckets. The memory backend uses golang.org/x/time/rate; the redis
// backend shares bucket state across gateway instances with a fixed-window
// counter, which is coarser but horizontally consistent.
package ratelimit
