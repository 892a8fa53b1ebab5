// Package queue implements the durable processing job queue on SQLite.
// Claims are atomic conditional updates, so any number of workers can poll
// the same database without double-claiming, and at most one job per content
// item is in flight at a time.
package queue
