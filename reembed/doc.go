// Package reembed re-vectorizes the chunks of an indexing run.
//
// The same BatchProcessor embeds chunks during indexing and when a run is
// re-embedded with a new or updated model. It supports batch processing,
// progress tracking, retry logic with exponential backoff, and vector
// normalization to ensure compatibility with cosine similarity search.
package reembed
