package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/types"
)

// Intent is a space assignment operation.
type Intent string

const (
	AssignStatements Intent = "assign_statements"
	RemoveStatements Intent = "remove_statements"
	BulkAssign       Intent = "bulk_assign"
)

// ParseIntent matches case-insensitively.
func ParseIntent(s string) (Intent, error) {
	switch i := Intent(strings.ToLower(strings.TrimSpace(s))); i {
	case AssignStatements, RemoveStatements, BulkAssign:
		return i, nil
	}
	return "", types.NewValidationError("intent", fmt.Sprintf("unknown intent %q", s))
}

// CreateSpace creates an active topic space for tenant.
func CreateSpace(ctx context.Context, store driver.GraphStore, tenant types.Tenant, name, description string) (*types.Space, error) {
	if err := tenant.Validate(); err != nil {
		return nil, types.NewValidationError("tenant", err.Error())
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, types.NewValidationError("name", "is required")
	}
	space := &types.Space{
		Name:        name,
		Description: strings.TrimSpace(description),
		Kind:        types.TopicSpace,
		IsActive:    true,
		UserID:      tenant.UserID,
		WorkspaceID: tenant.WorkspaceID,
	}
	err := store.ExecuteWrite(ctx, func(tx driver.GraphTx) error {
		return tx.CreateSpace(ctx, space)
	})
	if err != nil {
		return nil, &types.GraphWriteError{Op: "create_space", Err: err}
	}
	return space, nil
}

// ApplyIntent runs an explicit assignment or removal in one transaction.
// BulkAssign goes through the Classifier and ignores spaceID and ids.
func ApplyIntent(ctx context.Context, store driver.GraphStore, classifier *Classifier, tenant types.Tenant, intent Intent, spaceID string, statementIDs []string) (int, error) {
	if err := tenant.Validate(); err != nil {
		return 0, types.NewValidationError("tenant", err.Error())
	}
	if intent == BulkAssign {
		if classifier == nil {
			return 0, types.NewValidationError("intent", "bulk_assign is not available")
		}
		return classifier.BulkAssign(ctx, tenant, 0)
	}
	if spaceID == "" {
		return 0, types.NewValidationError("spaceId", "is required")
	}
	if len(statementIDs) == 0 {
		return 0, types.NewValidationError("statementIds", "must not be empty")
	}
	if _, err := store.GetSpace(ctx, tenant, spaceID); err != nil {
		return 0, err
	}

	var affected int
	err := store.ExecuteWrite(ctx, func(tx driver.GraphTx) error {
		var err error
		if intent == AssignStatements {
			affected, err = tx.AssignStatements(ctx, tenant, spaceID, statementIDs)
		} else {
			affected, err = tx.RemoveStatements(ctx, tenant, spaceID, statementIDs)
		}
		return err
	})
	switch {
	case errors.Is(err, driver.ErrStatementNotFound), errors.Is(err, driver.ErrSpaceNotFound):
		return 0, err
	case err != nil:
		return 0, &types.GraphWriteError{Op: string(intent), Err: err}
	}
	return affected, nil
}
