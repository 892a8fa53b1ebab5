// Package cache abstracts the Redis layer the pipeline uses for derived
// content state, alert feeds, and operational reports. Snapshots capture
// typed key values so atomic operations can restore the cache exactly when
// compensating.
package cache
