// Package analytics ships structured usage records to the time-series
// sink. Writes are fire-and-forget behind a bounded buffer: when the
// buffer is full the oldest event is dropped and counted, and a sink
// outage never fails a request.
package analytics
