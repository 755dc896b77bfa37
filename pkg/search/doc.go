// Package search implements bounded graph retrieval over the reified graph.
//
// A query is embedded once and scored against tenant entities and statements
// concurrently. Entities at or above the score threshold seed a breadth-first
// traversal through triples; statements above the threshold are seeds in
// their own right. Candidates are ranked by a blend of similarity and recency
// and truncated to the limit.
//
// # Usage
//
//	engine := search.NewEngine(store, embedder, search.DefaultConfig(), logger)
//	res, err := engine.Search(ctx, "where does alice work", tenant, search.Options{
//	    Limit:       10,
//	    MaxBFSDepth: 2,
//	})
//
// # Relaxation
//
// When fewer than MinResults facts survive, the threshold is lowered by
// RelaxStep and the search repeats, down to zero. Tenant, time window and
// label filters are never relaxed.
//
// # Depth
//
// Seed entities and seed statements are at depth 0. A statement adjacent to
// an entity at depth k is at depth k+1, and its other entities are at depth
// k+1 as well. Statements deeper than MaxBFSDepth are never returned.
package search
