// Package types defines the data model of the memory graph.
//
// The graph is reified: every fact is a Statement node linked to exactly one
// subject, predicate and object Entity, and to the Episodes it was extracted
// from. A Statement is active until a later episode contradicts it, at which
// point InvalidAt and InvalidatedBy are set. InvalidAt is never cleared;
// InvalidatedBy is emptied when the episode it names is deleted.
//
//   - Episode: one chunk of ingested content, versioned per session for documents
//   - Entity: a typed, deduplicated node
//   - Statement / Triple: a reified fact and its subject, predicate and object
//   - Space: a named cluster of statements with an optional synthesized summary
//   - CompactedSession: a rollup of one session's episodes
//
// Every record carries a Tenant. Reads always filter on both UserID and
// WorkspaceID.
//
// # Errors
//
// The error taxonomy (ValidationError, QuotaError, ExtractionError,
// GraphWriteError, SearchError) supports errors.Is against the sentinels
// ErrValidation, ErrQuota, ErrExtraction, ErrGraphWrite and ErrSearch:
//
//	if errors.Is(err, types.ErrQuota) {
//	    // surface QUOTA_EXCEEDED
//	}
package types
