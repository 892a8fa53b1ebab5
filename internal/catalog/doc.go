// Package catalog persists the relational side of the pipeline in SQLite:
// content items, transcript segments, vector point mappings, and the
// transaction log used for cross-store compensation.
package catalog
