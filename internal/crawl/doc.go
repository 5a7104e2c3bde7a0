// Package crawl runs the resumable listing crawl.
//
// A Machine walks the listing one page at a time through an explicit state
// graph:
//
//	idle -> determining_bound -> {resuming, fetching}
//	resuming -> fetching
//	fetching <-> checkpointing -> completed
//
// with failed reachable from every non-terminal state. All mutable run state
// lives in a single runState value owned by Run; nothing is global.
package crawl
