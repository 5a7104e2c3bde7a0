// Package sinks implements progress consumers: structured logging, an
// in-memory run status board for the ops endpoint, and Prometheus run
// metrics.
package sinks
