package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/soundprediction/recall/pkg/types"
)

// DefaultMaxChunkChars is the packing limit used when Options.MaxChunkChars is zero.
const DefaultMaxChunkChars = 4000

// Chunk is one ordered slice of a piece of content.
type Chunk struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
	Hash    string `json:"hash"`
}

// Result holds the chunks of one content body and the hash of the whole body.
type Result struct {
	Chunks      []Chunk `json:"chunks"`
	ContentHash string  `json:"contentHash"`
}

// Hashes returns the per-chunk hashes in chunk order.
func (r *Result) Hashes() []string {
	out := make([]string, len(r.Chunks))
	for i, c := range r.Chunks {
		out[i] = c.Hash
	}
	return out
}

// Options configures a Chunker.
type Options struct {
	MaxChunkChars int
}

// Chunker splits content into stable, size-bounded chunks.
type Chunker struct {
	maxChars int
}

// New creates a Chunker. A non-positive MaxChunkChars falls back to DefaultMaxChunkChars.
func New(opts Options) *Chunker {
	if opts.MaxChunkChars <= 0 {
		opts.MaxChunkChars = DefaultMaxChunkChars
	}
	return &Chunker{maxChars: opts.MaxChunkChars}
}

// Chunk splits content according to its episode type and hashes the result.
// Identical input always yields identical boundaries and hashes.
func (c *Chunker) Chunk(content string, episodeType types.EpisodeType) *Result {
	var parts []string
	if episodeType.Versioned() {
		parts = splitText(content, c.maxChars)
	} else if trimmed := strings.TrimSpace(content); trimmed != "" {
		parts = []string{trimmed}
	}

	res := &Result{
		Chunks:      make([]Chunk, len(parts)),
		ContentHash: Hash(content),
	}
	for i, p := range parts {
		res.Chunks[i] = Chunk{Index: i, Content: p, Hash: Hash(p)}
	}
	return res
}

// Hash returns the hex SHA-256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// splitText packs paragraphs into chunks of at most maxChars bytes,
// splitting oversized paragraphs at sentence, line or word boundaries.
func splitText(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(para) > maxChars {
			flush()
			chunks = append(chunks, splitParagraph(para, maxChars)...)
			continue
		}

		sep := 0
		if current.Len() > 0 {
			sep = 2
		}
		if current.Len()+sep+len(para) > maxChars && current.Len() > 0 {
			flush()
			sep = 0
		}
		if sep > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// splitParagraph breaks a single paragraph that exceeds maxChars. Break points
// closer than a third of the window to its start are ignored to avoid tiny fragments.
func splitParagraph(para string, maxChars int) []string {
	var chunks []string
	remaining := para
	minChunkSize := maxChars / 3

	for len(remaining) > 0 {
		if len(remaining) <= maxChars {
			if s := strings.TrimSpace(remaining); s != "" {
				chunks = append(chunks, s)
			}
			break
		}

		window := remaining[:maxChars]
		breakPoint := -1
		for _, sep := range []string{". ", "! ", "? ", "\n", " "} {
			if idx := strings.LastIndex(window, sep); idx > minChunkSize {
				breakPoint = idx + len(sep)
				break
			}
		}
		if breakPoint < 0 {
			breakPoint = maxChars
			for breakPoint > 0 && !utf8.RuneStart(remaining[breakPoint]) {
				breakPoint--
			}
			if breakPoint == 0 {
				breakPoint = maxChars
			}
		}

		if s := strings.TrimSpace(remaining[:breakPoint]); s != "" {
			chunks = append(chunks, s)
		}
		remaining = remaining[breakPoint:]
	}

	return chunks
}
