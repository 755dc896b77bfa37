// Package extract turns episode text into subject-predicate-object triples
// using a Completer. Model output is parsed leniently: JSON is repaired with
// jsonrepair and YAML is accepted as a fallback.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/soundprediction/recall/pkg/nlp"
	"github.com/soundprediction/recall/pkg/types"
)

// ExtractedTriple is one fact as reported by the model.
type ExtractedTriple struct {
	Subject     string         `json:"subject" yaml:"subject"`
	SubjectType string         `json:"subject_type" yaml:"subject_type"`
	Predicate   string         `json:"predicate" yaml:"predicate"`
	Object      string         `json:"object" yaml:"object"`
	ObjectType  string         `json:"object_type" yaml:"object_type"`
	Fact        string         `json:"fact" yaml:"fact"`
	Aspect      string         `json:"aspect" yaml:"aspect"`
	Attributes  map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Valid reports whether all three triple positions are filled.
func (t ExtractedTriple) Valid() bool {
	return strings.TrimSpace(t.Subject) != "" &&
		strings.TrimSpace(t.Predicate) != "" &&
		strings.TrimSpace(t.Object) != ""
}

// FactText returns the fact sentence, synthesizing one when the model left it empty.
func (t ExtractedTriple) FactText() string {
	if f := strings.TrimSpace(t.Fact); f != "" {
		return f
	}
	return strings.Join([]string{strings.TrimSpace(t.Subject), strings.TrimSpace(t.Predicate), strings.TrimSpace(t.Object)}, " ")
}

// StringAttributes flattens attribute values to strings.
func (t ExtractedTriple) StringAttributes() map[string]string {
	if len(t.Attributes) == 0 {
		return nil
	}
	out := make(map[string]string, len(t.Attributes))
	for k, v := range t.Attributes {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// Request is the input of one extraction call.
type Request struct {
	Content       string
	ReferenceTime time.Time
	Source        string
	Type          types.EpisodeType
	// Changed is true when Content is a changed-content extract of a new
	// document version rather than a whole chunk.
	Changed bool
}

// Extractor extracts triples with a Completer.
type Extractor struct {
	llm    nlp.Completer
	logger *slog.Logger
}

// New creates an Extractor.
func New(llm nlp.Completer, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{llm: llm, logger: logger}
}

// Extract returns the valid triples found in req.Content. Output that cannot
// be parsed is reported as a *types.ExtractionError.
func (e *Extractor) Extract(ctx context.Context, req Request) ([]ExtractedTriple, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, nil
	}
	raw, err := e.llm.Complete(ctx, BuildPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("failed to complete extraction prompt: %w", err)
	}

	parsed, err := Parse(raw)
	if err != nil {
		e.logger.Warn("unparseable extraction output", "error", err, "length", len(raw))
		return nil, err
	}

	valid := parsed[:0]
	for _, t := range parsed {
		if !t.Valid() {
			e.logger.Debug("dropping incomplete triple", "subject", t.Subject, "predicate", t.Predicate, "object", t.Object)
			continue
		}
		valid = append(valid, t)
	}
	return valid, nil
}
