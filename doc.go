// Package recall provides a temporal knowledge-graph memory engine for Go.
//
// Recall ingests conversation turns and documents, versions and chunks them,
// extracts subject-predicate-object statements into a reified graph and keeps
// the validity of those statements current as newer information arrives.
// Retrieval is a bounded graph traversal seeded by embedding similarity.
//
// # Basic Usage
//
// Create a client from a graph store, a completer and an embedder:
//
//	store, err := driver.NewNeo4jStore(ctx, "bolt://localhost:7687", "neo4j", "password", "neo4j", driver.Options{}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	llm, err := nlp.NewOpenAIClient(apiKey, nlp.Config{Model: "gpt-4o-mini"})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	emb, err := embedder.NewOpenAIEmbedder(apiKey, embedder.Config{Model: "text-embedding-3-small"})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	queue, err := ingest.OpenSQLiteQueue("./queue.db")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	client, err := recall.NewClient(store, llm, emb, &recall.Config{Queue: queue}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close(ctx)
//
// NewFromConfig builds the same client, with retries, circuit breakers, the
// embedding cache and the credits ledger, from a loaded config.Config.
//
// # Ingesting
//
// Every tenant is identified by a user and a workspace. Ingestion is queued;
// Start runs the background workers:
//
//	tenant := types.Tenant{UserID: "u1", WorkspaceID: "w1"}
//	if err := client.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	item, err := client.Ingest(ctx, tenant, ingest.Input{
//		EpisodeBody: "Alice joined Acme as CTO.",
//		Source:      "slack",
//		Type:        types.ConversationEpisodeType,
//	}, "")
//
// Re-ingesting a DOCUMENT under the same sessionId creates a new version when
// the content changed and is a no-op otherwise.
//
// # Searching
//
//	res, err := client.Search(ctx, tenant, "where does Alice work", search.Options{})
//	for _, f := range res.Facts {
//		fmt.Println(f.Triple.Statement.Fact, f.Score)
//	}
//
// # Spaces and personas
//
// Spaces group statements by topic. StartSynthesis summarizes a space, or the
// tenant's persona when no space is given, in a cancellable background job.
package recall
