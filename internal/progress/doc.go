// Package progress carries crawl lifecycle events from the state machine to
// pluggable sinks. Events are batched on a background goroutine so emitting
// never blocks the crawl loop.
package progress
