// Package driver stores the reified knowledge graph.
//
// A fact is a Statement node linked to a subject, predicate and object Entity
// and to the Episodes it was extracted from:
//
//	(Statement)-[:HAS_SUBJECT]->(Entity)
//	(Statement)-[:HAS_PREDICATE]->(Entity)
//	(Statement)-[:HAS_OBJECT]->(Entity)
//	(Statement)-[:HAS_PROVENANCE]->(Episode)
//	(Statement)-[:IN_SPACE]->(Space)
//	(CompactedSession)-[:COMPACTS]->(Episode)
//
// # Implementations
//
//   - Neo4jStore: Neo4j through the official Go driver
//   - MemoryStore: embedded copy-on-write graph for tests and single-node use
//
// Both share the invalidation and merge rules in rules.go, so they agree on
// which statement of a (subject, predicate) pair is active.
//
// # Transactions
//
// Writes are grouped with ExecuteWrite:
//
//	err := store.ExecuteWrite(ctx, func(tx driver.GraphTx) error {
//		if err := tx.CreateEpisode(ctx, ep); err != nil {
//			return err
//		}
//		_, err := tx.CreateTriple(ctx, in)
//		return err
//	})
//
// An error from the callback rolls back everything it wrote.
//
// # Thread Safety
//
// Both stores are safe for concurrent use. Readers never observe a partially
// applied write.
package driver
