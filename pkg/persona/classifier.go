package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	jsonrepair "github.com/kaptinlin/jsonrepair"

	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/nlp"
	"github.com/soundprediction/recall/pkg/types"
)

// DefaultClassifyBatch bounds how many unassigned statements one prompt carries.
const DefaultClassifyBatch = 100

// Assignment places one statement in one space.
type Assignment struct {
	StatementID string `json:"statementId"`
	SpaceID     string `json:"spaceId"`
}

// Classifier assigns unassigned statements to the tenant's topic spaces.
type Classifier struct {
	store  driver.GraphStore
	llm    nlp.Completer
	logger *slog.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(store driver.GraphStore, llm nlp.Completer, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{store: store, llm: llm, logger: logger}
}

// BulkAssign asks the Completer to place up to limit unassigned statements
// into active topic spaces and applies every returned assignment in one
// transaction. Assignments naming unknown ids are dropped.
func (c *Classifier) BulkAssign(ctx context.Context, tenant types.Tenant, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultClassifyBatch
	}
	all, err := c.store.ListSpaces(ctx, tenant, types.TopicSpace)
	if err != nil {
		return 0, fmt.Errorf("failed to list spaces: %w", err)
	}
	var spaces []*types.Space
	for _, sp := range all {
		if sp.IsActive {
			spaces = append(spaces, sp)
		}
	}
	if len(spaces) == 0 {
		return 0, nil
	}

	triples, err := c.store.UnassignedStatements(ctx, tenant, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load unassigned statements: %w", err)
	}
	if len(triples) == 0 {
		return 0, nil
	}

	raw, err := c.llm.Complete(ctx, classifyPrompt(spaces, triples))
	if err != nil {
		return 0, fmt.Errorf("failed to complete classification prompt: %w", err)
	}
	assignments, err := parseAssignments(raw)
	if err != nil {
		return 0, err
	}

	validSpaces := make(map[string]struct{}, len(spaces))
	for _, sp := range spaces {
		validSpaces[sp.UUID] = struct{}{}
	}
	validStatements := make(map[string]struct{}, len(triples))
	for _, t := range triples {
		validStatements[t.Statement.UUID] = struct{}{}
	}
	bySpace := make(map[string][]string)
	var order []string
	for _, a := range assignments {
		if _, ok := validSpaces[a.SpaceID]; !ok {
			continue
		}
		if _, ok := validStatements[a.StatementID]; !ok {
			continue
		}
		if _, seen := bySpace[a.SpaceID]; !seen {
			order = append(order, a.SpaceID)
		}
		bySpace[a.SpaceID] = append(bySpace[a.SpaceID], a.StatementID)
	}
	if len(order) == 0 {
		return 0, nil
	}

	var affected int
	err = c.store.ExecuteWrite(ctx, func(tx driver.GraphTx) error {
		affected = 0
		for _, spaceID := range order {
			n, err := tx.AssignStatements(ctx, tenant, spaceID, bySpace[spaceID])
			if err != nil {
				return err
			}
			affected += n
		}
		return nil
	})
	if err != nil {
		return 0, &types.GraphWriteError{Op: "bulk_assign", Err: err}
	}
	c.logger.Info("classified statements", "workspace_id", tenant.WorkspaceID, "candidates", len(triples), "assigned", affected)
	return affected, nil
}

func classifyPrompt(spaces []*types.Space, triples []*types.Triple) string {
	var b strings.Builder
	b.WriteString("Assign each statement to the space it belongs to. Leave out statements that fit no space.\n\n<SPACES>\n")
	for _, sp := range spaces {
		fmt.Fprintf(&b, "%s: %s", sp.UUID, sp.Name)
		if sp.Description != "" {
			fmt.Fprintf(&b, " (%s)", sp.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("</SPACES>\n\n<STATEMENTS>\n")
	for _, t := range triples {
		fmt.Fprintf(&b, "%s: %s\n", t.Statement.UUID, t.Statement.Fact)
	}
	b.WriteString(`</STATEMENTS>

Respond with a single JSON object and nothing else:
{"assignments": [{"statementId": "...", "spaceId": "..."}]}
`)
	return b.String()
}

func parseAssignments(raw string) ([]Assignment, error) {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "{")
	if start < 0 {
		return nil, types.NewExtractionError(raw, fmt.Errorf("no assignments object in model output"))
	}
	s = s[start:]
	if end := strings.LastIndex(s, "}"); end >= 0 && json.Valid([]byte(s[:end+1])) {
		s = s[:end+1]
	} else {
		repaired, err := jsonrepair.JSONRepair(s)
		if err != nil {
			return nil, types.NewExtractionError(raw, err)
		}
		s = repaired
	}
	var out struct {
		Assignments []Assignment `json:"assignments"`
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, types.NewExtractionError(raw, err)
	}
	return out.Assignments, nil
}
