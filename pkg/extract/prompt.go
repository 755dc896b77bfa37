package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/recall/pkg/types"
)

var entityTypeNames = []types.EntityType{
	types.PersonEntity, types.OrganizationEntity, types.PlaceEntity, types.EventEntity,
	types.ProjectEntity, types.TaskEntity, types.TechnologyEntity, types.ProductEntity,
	types.StandardEntity, types.ConceptEntity,
}

var aspectNames = []types.Aspect{
	types.IdentityAspect, types.KnowledgeAspect, types.BeliefAspect, types.PreferenceAspect,
	types.ActionAspect, types.GoalAspect, types.DirectiveAspect, types.DecisionAspect,
	types.EventAspect, types.ProblemAspect, types.RelationshipAspect,
}

func join[T ~string](vals []T) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

// BuildPrompt renders the extraction instructions for req.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(`You are an expert fact extractor that extracts fact triples from text.
1. Each triple links a subject entity to an object entity through a short predicate in snake_case (for example works_at, lives_in, prefers).
2. Treat the REFERENCE TIME as the time the content was written. Resolve relative dates against it.
3. Only extract facts stated in the content. Do not infer.
`)
	fmt.Fprintf(&b, "4. Entity types: %s.\n", join(entityTypeNames))
	fmt.Fprintf(&b, "5. Aspects: %s.\n", join(aspectNames))
	if req.Changed {
		b.WriteString("6. The content is an excerpt of the changes made to a document. Extract facts from the changed text only.\n")
	}

	b.WriteString(`
Respond with JSON only, in this shape:
{"triples": [{"subject": "...", "subject_type": "...", "predicate": "...", "object": "...", "object_type": "...", "fact": "one sentence", "aspect": "...", "attributes": {}}]}
Respond with {"triples": []} if there are no facts.
`)

	ref := req.ReferenceTime
	if ref.IsZero() {
		ref = time.Now()
	}
	fmt.Fprintf(&b, "\n<REFERENCE TIME>\n%s\n</REFERENCE TIME>\n", ref.UTC().Format(time.RFC3339))
	if req.Source != "" {
		fmt.Fprintf(&b, "<SOURCE>\n%s (%s)\n</SOURCE>\n", req.Source, req.Type)
	}
	fmt.Fprintf(&b, "<CONTENT>\n%s\n</CONTENT>\n", req.Content)
	return b.String()
}
