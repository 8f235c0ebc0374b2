// Package indexing turns submitted PDFs into searchable chunks.
//
// The Orchestrator runs partition, metadata, enrichment and chunking for
// every document of a batch on a bounded worker pool, persisting each step
// result before the next step starts. A document that fails stops at the
// failing step without affecting its siblings. Once every document has
// finished, the chunks of all documents that reached chunking are embedded
// together in batches.
//
// Resubmitting a batch resumes each document from its first missing or
// failed step; completed steps are reused when their stored output can be
// reloaded.
package indexing
