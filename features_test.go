package recall_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/ingest"
	"github.com/soundprediction/recall/pkg/search"
	"github.com/soundprediction/recall/pkg/types"
)

// TestFeatures runs the Gherkin scenarios under features/.
func TestFeatures(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping acceptance tests in short mode")
	}

	tags := os.Getenv("GODOG_TAGS")
	if tags == "" {
		tags = "~@wip"
	} else {
		tags = tags + "&&~@wip"
	}

	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Tags:     tags,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("acceptance tests failed")
	}
}

// scenario holds the state of one running scenario.
type scenario struct {
	ctx     context.Context
	h       *harness
	closeFn func()
	dir     string
	tenant  types.Tenant

	last    *ingest.Item
	deleted *driver.DeleteResult
}

// InitializeScenario sets up step definitions
func InitializeScenario(sc *godog.ScenarioContext) {
	s := &scenario{ctx: context.Background()}

	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if s.closeFn != nil {
			s.closeFn()
		}
		if s.dir != "" {
			os.RemoveAll(s.dir)
		}
		return ctx, nil
	})

	sc.Step(`^a fresh memory engine for tenant "([^"]*)" in workspace "([^"]*)"$`, s.freshEngine)
	sc.Step(`^the document "([^"]*)" is ingested with content "([^"]*)"$`, s.ingestDocument)
	sc.Step(`^the message "([^"]*)" is ingested in session "([^"]*)" at "([^"]*)"$`, s.ingestMessage)
	sc.Step(`^the ingestion completes as version (\d+)$`, s.completesAsVersion)
	sc.Step(`^the ingestion is a no-op at version (\d+)$`, s.noopAtVersion)
	sc.Step(`^the extractor ran (\d+) times?$`, s.extractorRan)
	sc.Step(`^the change percentage is between 0 and 100$`, s.changeInRange)
	sc.Step(`^the statement "([^"]*)" is invalidated$`, s.statementInvalidated)
	sc.Step(`^the statement "([^"]*)" is active$`, s.statementActive)
	sc.Step(`^searching "([^"]*)" returns the fact "([^"]*)"$`, s.searchReturnsFact)
	sc.Step(`^searching "([^"]*)" with invalidated facts returns the invalidated fact "([^"]*)"$`, s.searchReturnsInvalidated)
	sc.Step(`^searching "([^"]*)" as tenant "([^"]*)" in workspace "([^"]*)" returns no facts$`, s.searchAsOtherTenant)
	sc.Step(`^the last ingested episode is deleted$`, s.deleteLastEpisode)
	sc.Step(`^(\d+) statements? and (\d+) entities were deleted$`, s.deletedCounts)
	sc.Step(`^no statements remain$`, s.noStatements)
}

func (s *scenario) freshEngine(user, workspace string) error {
	dir, err := os.MkdirTemp("", "recall-features-")
	if err != nil {
		return err
	}
	s.dir = dir
	s.h, s.closeFn, err = openHarness(dir, nil)
	if err != nil {
		return err
	}
	s.tenant = types.Tenant{UserID: user, WorkspaceID: workspace}
	return nil
}

func (s *scenario) run(in ingest.Input) error {
	item, err := s.h.ingest(s.ctx, s.tenant, in)
	if err != nil {
		return err
	}
	if item.Status != ingest.StatusCompleted {
		return fmt.Errorf("item %s ended %s: %s", item.ID, item.Status, item.Error)
	}
	s.last = item
	return nil
}

func (s *scenario) ingestDocument(session, content string) error {
	return s.run(ingest.Input{
		EpisodeBody: content,
		Source:      "notes",
		Type:        types.DocumentEpisodeType,
		SessionID:   session,
	})
}

func (s *scenario) ingestMessage(content, session, at string) error {
	ts, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return err
	}
	return s.run(conversation(content, session, ts))
}

func (s *scenario) completesAsVersion(version int) error {
	if s.last.Output.Noop {
		return errors.New("expected new content, got a no-op")
	}
	if s.last.Output.Version != version {
		return fmt.Errorf("expected version %d, got %d", version, s.last.Output.Version)
	}
	return nil
}

func (s *scenario) noopAtVersion(version int) error {
	if !s.last.Output.Noop {
		return errors.New("expected a no-op")
	}
	if s.last.Output.Version != version {
		return fmt.Errorf("expected version %d, got %d", version, s.last.Output.Version)
	}
	return nil
}

func (s *scenario) extractorRan(n int) error {
	if got := s.h.llm.extractions(); got != n {
		return fmt.Errorf("expected %d extraction calls, got %d", n, got)
	}
	return nil
}

func (s *scenario) changeInRange() error {
	p := s.last.Output.ChangePercentage
	if p <= 0 || p > 100 {
		return fmt.Errorf("change percentage %v out of range", p)
	}
	return nil
}

func (s *scenario) findStatement(fact string) (*types.Statement, error) {
	triples, err := s.h.statements(s.ctx, s.tenant)
	if err != nil {
		return nil, err
	}
	for _, t := range triples {
		if t.Statement.Fact == fact {
			return &t.Statement, nil
		}
	}
	return nil, fmt.Errorf("no statement %q", fact)
}

func (s *scenario) statementInvalidated(fact string) error {
	st, err := s.findStatement(fact)
	if err != nil {
		return err
	}
	if st.Active() {
		return fmt.Errorf("statement %q is still active", fact)
	}
	if st.InvalidatedBy == "" {
		return fmt.Errorf("statement %q has no invalidating episode", fact)
	}
	return nil
}

func (s *scenario) statementActive(fact string) error {
	st, err := s.findStatement(fact)
	if err != nil {
		return err
	}
	if !st.Active() {
		return fmt.Errorf("statement %q was invalidated at %v", fact, st.InvalidAt)
	}
	return nil
}

func containsFact(facts []search.Fact, fact string) bool {
	for _, f := range facts {
		if f.Triple.Statement.Fact == fact {
			return true
		}
	}
	return false
}

func (s *scenario) searchReturnsFact(query, fact string) error {
	res, err := s.h.client.Search(s.ctx, s.tenant, query, search.Options{})
	if err != nil {
		return err
	}
	if !containsFact(res.Facts, fact) {
		return fmt.Errorf("fact %q missing from %d results", fact, len(res.Facts))
	}
	for _, f := range res.Facts {
		if !f.Triple.Statement.Active() {
			return fmt.Errorf("invalidated fact %q returned as active", f.Triple.Statement.Fact)
		}
	}
	return nil
}

func (s *scenario) searchReturnsInvalidated(query, fact string) error {
	res, err := s.h.client.Search(s.ctx, s.tenant, query, search.Options{IncludeInvalidated: true})
	if err != nil {
		return err
	}
	if !containsFact(res.InvalidatedFacts, fact) {
		return fmt.Errorf("invalidated fact %q missing", fact)
	}
	return nil
}

func (s *scenario) searchAsOtherTenant(query, user, workspace string) error {
	res, err := s.h.client.Search(s.ctx, types.Tenant{UserID: user, WorkspaceID: workspace}, query, search.Options{})
	if err != nil {
		return err
	}
	if n := len(res.Facts) + len(res.InvalidatedFacts) + len(res.Episodes); n != 0 {
		return fmt.Errorf("expected no results, got %d", n)
	}
	return nil
}

func (s *scenario) deleteLastEpisode() error {
	if s.last == nil || len(s.last.Output.EpisodeUUIDs) == 0 {
		return errors.New("nothing ingested")
	}
	res, err := s.h.client.DeleteEpisode(s.ctx, s.tenant, s.last.Output.EpisodeUUIDs[0])
	if err != nil {
		return err
	}
	s.deleted = res
	return nil
}

func (s *scenario) deletedCounts(statements, entities int) error {
	if s.deleted.StatementsDeleted != statements || s.deleted.EntitiesDeleted != entities {
		return fmt.Errorf("expected %d statements and %d entities deleted, got %+v", statements, entities, s.deleted)
	}
	return nil
}

func (s *scenario) noStatements() error {
	triples, err := s.h.statements(s.ctx, s.tenant)
	if err != nil {
		return err
	}
	if len(triples) != 0 {
		return fmt.Errorf("expected no statements, got %d", len(triples))
	}
	return nil
}
