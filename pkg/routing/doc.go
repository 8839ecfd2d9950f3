// Package routing selects the (connector, model) pair for each request
// and drives failover within a request.
//
// Selection evaluates the ordered routing rules first, then filters
// connectors by tenant residency, model capability and health, and
// finally orders survivors by the active strategy (priority, cost or
// latency). The head of the ordered list is the primary; the tail is the
// failover chain. Failover only happens before the first body byte
// reaches the client; mid-stream errors seal the partial response.
package routing
