// Package embedder provides text embedding clients for vector representations.
//
// # Implementations
//
//   - OpenAIEmbedder: OpenAI and OpenAI-compatible embedding endpoints
//   - HashingEmbedder: offline feature-hashing embedder for the memory driver
//     and tests
//   - CachedEmbedder: ristretto cache in front of any Client
//
// # Usage
//
//	base, err := embedder.NewOpenAIEmbedder(apiKey, embedder.Config{
//	    Model:     "text-embedding-3-small",
//	    BatchSize: 64,
//	})
//	cached, err := embedder.NewCachedEmbedder(base, 100_000, logger)
//	vectors, err := cached.Embed(ctx, []string{"hello world"})
//
// Implementations batch internally based on Config.BatchSize.
package embedder
