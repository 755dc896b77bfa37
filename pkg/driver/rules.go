package driver

import (
	"fmt"
	"time"

	"github.com/soundprediction/recall/pkg/types"
	"github.com/soundprediction/recall/pkg/utils"
)

// activeFact is an active statement sharing the subject and predicate of an incoming triple.
type activeFact struct {
	Statement    types.Statement
	ObjectUUID   string
	EpisodeUUIDs []string
}

// conflictPlan is what CreateTriple must do for an incoming fact.
type conflictPlan struct {
	// Duplicate is the active statement asserting the same object. Only a provenance edge is added.
	Duplicate *activeFact
	// Invalidate lists active statements the incoming fact supersedes.
	Invalidate []activeFact
	// SupersededBy is set when an active statement is newer than the incoming fact,
	// which is then stored already invalidated.
	SupersededBy *activeFact
}

// planConflicts applies the temporal invalidation rule: for one (subject, predicate)
// pair, the fact with the latest validAt is the active one.
func planConflicts(active []activeFact, objectUUID string, validAt time.Time) conflictPlan {
	var plan conflictPlan
	for i := range active {
		if active[i].ObjectUUID == objectUUID {
			plan.Duplicate = &active[i]
			return plan
		}
	}
	for i := range active {
		a := active[i]
		if validAt.Before(a.Statement.ValidAt) {
			if plan.SupersededBy == nil || a.Statement.ValidAt.Before(plan.SupersededBy.Statement.ValidAt) {
				plan.SupersededBy = &active[i]
			}
			continue
		}
		plan.Invalidate = append(plan.Invalidate, a)
	}
	return plan
}

// invalidatingEpisode picks the episode credited with superseding a fact.
func (a *activeFact) invalidatingEpisode() string {
	if len(a.EpisodeUUIDs) == 0 {
		return ""
	}
	return a.EpisodeUUIDs[0]
}

// checkTriple verifies every node of a triple belongs to the episode's tenant.
func checkTriple(in TripleInput) error {
	if in.Episode == nil || in.Subject == nil || in.Predicate == nil || in.Object == nil {
		return fmt.Errorf("incomplete triple: subject, predicate, object and episode are required")
	}
	if in.Statement.Fact == "" {
		return fmt.Errorf("incomplete triple: %w", types.ErrEmptyContent)
	}
	tenant := in.Episode.Tenant()
	for _, e := range []*types.Entity{in.Subject, in.Predicate, in.Object} {
		if !tenant.Owns(e.UserID, e.WorkspaceID) {
			return fmt.Errorf("entity %s: %w", e.UUID, types.ErrTenantMismatch)
		}
	}
	return nil
}

// bestMerge returns the candidate most similar to embedding when it reaches threshold.
func bestMerge(embedding []float32, candidates []types.Entity, threshold float64) (*types.Entity, float64) {
	if len(embedding) == 0 {
		return nil, 0
	}
	var best *types.Entity
	bestScore := threshold
	for i := range candidates {
		score := utils.CosineSimilarity(embedding, candidates[i].NameEmbedding)
		if score >= bestScore {
			best, bestScore = &candidates[i], score
		}
	}
	return best, bestScore
}

// matches reports whether a statement passes the filter. labels are the label ids
// of the statement's provenance episodes.
func (f StatementFilter) matches(st *types.Statement, labels []string) bool {
	if !f.IncludeInvalidated && !st.Active() {
		return false
	}
	if !st.ValidDuring(f.StartTime, f.EndTime) {
		return false
	}
	if len(f.LabelIDs) == 0 {
		return true
	}
	for _, l := range labels {
		for _, want := range f.LabelIDs {
			if l == want {
				return true
			}
		}
	}
	return false
}

func (f EpisodeFilter) matches(ep *types.Episode) bool {
	if f.SessionID != "" && ep.SessionID != f.SessionID {
		return false
	}
	if !f.Since.IsZero() && ep.ValidAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ep.ValidAt.After(f.Until) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if ep.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsEntityType(list []types.EntityType, t types.EntityType) bool {
	if len(list) == 0 {
		return true
	}
	for _, x := range list {
		if x == t {
			return true
		}
	}
	return false
}
