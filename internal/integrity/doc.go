// Package integrity reconciles the relational store, the vector store, and
// the summary flags on content rows. It is the repair path for operations
// whose compensation could not complete.
package integrity
