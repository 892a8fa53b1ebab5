// Package txn coordinates writes that span SQLite, the vector store, and the
// cache. SQLite gets a real transaction; the other two stores get
// snapshot-based compensation, with every run audited in the transaction log.
package txn
