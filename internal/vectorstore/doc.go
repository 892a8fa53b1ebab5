// Package vectorstore abstracts the Qdrant collections that hold embedded
// transcript chunks. Every point payload carries content_id, which is what
// the integrity reconciler and compensation logic filter on.
package vectorstore
