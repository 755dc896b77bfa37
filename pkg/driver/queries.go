package driver

// Cypher used by Neo4jStore. Every query scopes nodes by userId and workspaceId.

// tripleProjection completes a query that has bound a distinct statement s.
const tripleProjection = `
MATCH (s)-[:HAS_SUBJECT]->(sub:Entity),
      (s)-[:HAS_PREDICATE]->(pred:Entity),
      (s)-[:HAS_OBJECT]->(obj:Entity)
OPTIONAL MATCH (s)-[:HAS_PROVENANCE]->(ep:Episode)
RETURN s, sub, pred, obj,
       collect(DISTINCT ep.uuid) AS episodeUuids,
       collect(ep.labelIds) AS episodeLabels
`

var indexQueries = []string{
	"CREATE INDEX episode_uuid IF NOT EXISTS FOR (n:Episode) ON (n.uuid)",
	"CREATE INDEX episode_tenant IF NOT EXISTS FOR (n:Episode) ON (n.userId, n.workspaceId)",
	"CREATE INDEX episode_session IF NOT EXISTS FOR (n:Episode) ON (n.sessionId, n.version)",
	"CREATE INDEX entity_uuid IF NOT EXISTS FOR (n:Entity) ON (n.uuid)",
	"CREATE INDEX entity_tenant_type IF NOT EXISTS FOR (n:Entity) ON (n.userId, n.workspaceId, n.type)",
	"CREATE INDEX statement_uuid IF NOT EXISTS FOR (n:Statement) ON (n.uuid)",
	"CREATE INDEX statement_tenant IF NOT EXISTS FOR (n:Statement) ON (n.userId, n.workspaceId)",
	"CREATE INDEX space_uuid IF NOT EXISTS FOR (n:Space) ON (n.uuid)",
	"CREATE INDEX compacted_session IF NOT EXISTS FOR (n:CompactedSession) ON (n.sessionId)",
	"CREATE CONSTRAINT write_lock_tenant IF NOT EXISTS FOR (n:WriteLock) REQUIRE (n.userId, n.workspaceId) IS UNIQUE",
}

const (
	queryLockTenant = `
MERGE (l:WriteLock {userId: $userId, workspaceId: $workspaceId})
SET l.lockedAt = timestamp()`

	queryEpisodeExists = `
MATCH (ep:Episode {uuid: $uuid})
RETURN count(ep) AS n`

	queryCreateEpisode = `
CREATE (ep:Episode)
SET ep = $props`

	queryGetEpisode = `
MATCH (ep:Episode {uuid: $uuid, userId: $userId, workspaceId: $workspaceId})
RETURN ep`

	queryLatestSessionEpisode = `
MATCH (ep:Episode {sessionId: $sessionId, chunkIndex: 0, userId: $userId, workspaceId: $workspaceId})
RETURN ep
ORDER BY ep.version DESC, ep.createdAt DESC
LIMIT 1`

	querySessionEpisodes = `
MATCH (ep:Episode {sessionId: $sessionId, version: $version, userId: $userId, workspaceId: $workspaceId})
RETURN ep
ORDER BY ep.chunkIndex`

	queryTenantEpisodes = `
MATCH (ep:Episode {userId: $userId, workspaceId: $workspaceId})
RETURN ep`

	queryTenantEntities = `
MATCH (e:Entity {userId: $userId, workspaceId: $workspaceId})
WHERE e.nameEmbedding IS NOT NULL
RETURN e`

	queryEntitiesOfType = `
MATCH (e:Entity {userId: $userId, workspaceId: $workspaceId, type: $type})
RETURN e
ORDER BY e.uuid`

	querySetEntityEmbedding = `
MATCH (e:Entity {uuid: $uuid})
SET e.nameEmbedding = $embedding`

	queryCreateEntity = `
CREATE (e:Entity)
SET e = $props`

	queryActiveFacts = `
MATCH (s:Statement {userId: $userId, workspaceId: $workspaceId})-[:HAS_SUBJECT]->(:Entity {uuid: $subject}),
      (s)-[:HAS_PREDICATE]->(:Entity {uuid: $predicate}),
      (s)-[:HAS_OBJECT]->(obj:Entity)
WHERE s.invalidAt IS NULL
OPTIONAL MATCH (s)-[:HAS_PROVENANCE]->(ep:Episode)
RETURN s, obj.uuid AS objectUuid, collect(ep.uuid) AS episodeUuids`

	queryAddProvenance = `
MATCH (s:Statement {uuid: $statement}), (ep:Episode {uuid: $episode})
MERGE (s)-[:HAS_PROVENANCE]->(ep)
RETURN s`

	queryCreateStatement = `
MATCH (sub:Entity {uuid: $subject}), (pred:Entity {uuid: $predicate}),
      (obj:Entity {uuid: $object}), (ep:Episode {uuid: $episode})
CREATE (s:Statement)
SET s = $props
CREATE (s)-[:HAS_SUBJECT]->(sub),
       (s)-[:HAS_PREDICATE]->(pred),
       (s)-[:HAS_OBJECT]->(obj),
       (s)-[:HAS_PROVENANCE]->(ep)
RETURN s`

	queryGetStatementNode = `
MATCH (s:Statement {uuid: $uuid, userId: $userId, workspaceId: $workspaceId})
RETURN s`

	queryInvalidateStatement = `
MATCH (s:Statement {uuid: $uuid})
SET s.invalidAt = $invalidAt, s.invalidatedBy = $invalidatedBy
RETURN s`

	queryTenantStatements = `
MATCH (s:Statement {userId: $userId, workspaceId: $workspaceId})
WHERE s.factEmbedding IS NOT NULL
WITH s` + tripleProjection

	queryStatementsForEntities = `
MATCH (s:Statement {userId: $userId, workspaceId: $workspaceId})-[:HAS_SUBJECT|HAS_PREDICATE|HAS_OBJECT]->(e:Entity)
WHERE e.uuid IN $entityUuids
WITH DISTINCT s` + tripleProjection

	queryStatementsByUUID = `
MATCH (s:Statement {userId: $userId, workspaceId: $workspaceId})
WHERE s.uuid IN $uuids
WITH s` + tripleProjection

	queryEpisodesForStatements = `
MATCH (s:Statement {userId: $userId, workspaceId: $workspaceId})-[:HAS_PROVENANCE]->(ep:Episode {userId: $userId, workspaceId: $workspaceId})
WHERE s.uuid IN $uuids
RETURN DISTINCT ep`

	queryOrphanedStatements = `
MATCH (ep:Episode {uuid: $uuid})<-[:HAS_PROVENANCE]-(s:Statement)
WHERE NOT EXISTS {
  MATCH (s)-[:HAS_PROVENANCE]->(other:Episode)
  WHERE other.uuid <> $uuid
}
OPTIONAL MATCH (s)-[:HAS_SUBJECT|HAS_PREDICATE|HAS_OBJECT]->(e:Entity)
RETURN s.uuid AS uuid, collect(DISTINCT e.uuid) AS entities`

	queryDeleteStatements = `
MATCH (s:Statement)
WHERE s.uuid IN $uuids
DETACH DELETE s`

	queryDeleteUnreferencedEntities = `
MATCH (e:Entity)
WHERE e.uuid IN $uuids
  AND NOT EXISTS { MATCH (:Statement)-[:HAS_SUBJECT|HAS_PREDICATE|HAS_OBJECT]->(e) }
WITH collect(e) AS doomed
FOREACH (x IN doomed | DETACH DELETE x)
RETURN size(doomed) AS n`

	queryClearInvalidatedBy = `
MATCH (s:Statement {invalidatedBy: $uuid})
REMOVE s.invalidatedBy`

	queryDeleteEpisode = `
MATCH (ep:Episode {uuid: $uuid})
DETACH DELETE ep`

	queryCreateSpace = `
CREATE (sp:Space)
SET sp = $props`

	queryGetSpace = `
MATCH (sp:Space {uuid: $uuid, userId: $userId, workspaceId: $workspaceId})
RETURN sp`

	queryListSpaces = `
MATCH (sp:Space {userId: $userId, workspaceId: $workspaceId})
WHERE $kind = '' OR sp.kind = $kind
RETURN sp
ORDER BY sp.createdAt`

	queryTenantStatementUUIDs = `
MATCH (s:Statement {userId: $userId, workspaceId: $workspaceId})
WHERE s.uuid IN $uuids
RETURN collect(s.uuid) AS uuids`

	queryAssignStatements = `
MATCH (sp:Space {uuid: $space})
MATCH (s:Statement)
WHERE s.uuid IN $uuids AND NOT (s)-[:IN_SPACE]->(sp)
CREATE (s)-[:IN_SPACE]->(sp)
RETURN count(s) AS n`

	queryRemoveStatements = `
MATCH (s:Statement)-[r:IN_SPACE]->(sp:Space {uuid: $space})
WHERE s.uuid IN $uuids
DELETE r
RETURN count(r) AS n`

	queryUpdateSpaceSummary = `
MATCH (sp:Space {uuid: $uuid, userId: $userId, workspaceId: $workspaceId})
SET sp.summary = $summary, sp.lastSynthesizedAt = $at, sp.updatedAt = $at
RETURN sp.uuid AS uuid`

	querySpaceStatements = `
MATCH (s:Statement {userId: $userId, workspaceId: $workspaceId})-[:IN_SPACE]->(:Space {uuid: $space})
WITH s` + tripleProjection

	queryUnassignedStatements = `
MATCH (s:Statement {userId: $userId, workspaceId: $workspaceId})
WHERE s.invalidAt IS NULL AND NOT (s)-[:IN_SPACE]->(:Space)
WITH s
ORDER BY s.uuid
LIMIT $limit` + tripleProjection

	queryCompactedExists = `
MATCH (c:CompactedSession {uuid: $uuid})
RETURN count(c) AS n`

	queryCreateCompacted = `
CREATE (c:CompactedSession)
SET c = $props
WITH c
UNWIND $sources AS sid
MATCH (ep:Episode {uuid: sid})
CREATE (c)-[:COMPACTS]->(ep)`

	queryCompactedSessions = `
MATCH (c:CompactedSession {sessionId: $sessionId, userId: $userId, workspaceId: $workspaceId})
OPTIONAL MATCH (c)-[:COMPACTS]->(ep:Episode)
RETURN c, collect(ep.uuid) AS sources
ORDER BY c.startTime`
)
