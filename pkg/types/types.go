package types

import (
	"errors"
	"strings"
	"time"
)

// Validation errors
var (
	ErrEmptyName        = errors.New("name cannot be empty")
	ErrEmptyUserID      = errors.New("user_id cannot be empty")
	ErrEmptyWorkspaceID = errors.New("workspace_id cannot be empty")
	ErrEmptyUUID        = errors.New("uuid cannot be empty")
	ErrEmptySessionID   = errors.New("session_id cannot be empty")
	ErrEmptyContent     = errors.New("content cannot be empty")
	ErrInvalidLimit     = errors.New("limit must be positive")
	ErrTenantMismatch   = errors.New("tenant mismatch")
)

// ContextKey is the type used for values the server stores on request contexts.
type ContextKey string

const (
	ContextKeyUserID        ContextKey = "user_id"
	ContextKeyWorkspaceID   ContextKey = "workspace_id"
	ContextKeySessionID     ContextKey = "session_id"
	ContextKeyRequestSource ContextKey = "request_source"
)

// Tenant scopes every read and write. WorkspaceID is the isolation boundary.
type Tenant struct {
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
}

// Validate checks both tenant fields are present.
func (t Tenant) Validate() error {
	if t.UserID == "" {
		return ErrEmptyUserID
	}
	if t.WorkspaceID == "" {
		return ErrEmptyWorkspaceID
	}
	return nil
}

// Key returns a stable string for maps and partitioning.
func (t Tenant) Key() string {
	return t.WorkspaceID + "/" + t.UserID
}

// Owns reports whether a record stamped with userID/workspaceID belongs to t.
func (t Tenant) Owns(userID, workspaceID string) bool {
	return t.WorkspaceID == workspaceID && t.UserID == userID
}

// EpisodeType represents the type of an episode.
type EpisodeType string

const (
	// ConversationEpisodeType is append-only and never versioned.
	ConversationEpisodeType EpisodeType = "CONVERSATION"
	// DocumentEpisodeType is versioned per session.
	DocumentEpisodeType EpisodeType = "DOCUMENT"
	// ImageEpisodeType carries an image description.
	ImageEpisodeType EpisodeType = "IMAGE"
)

// ParseEpisodeType accepts any casing and defaults to CONVERSATION for "".
func ParseEpisodeType(s string) (EpisodeType, bool) {
	switch EpisodeType(strings.ToUpper(strings.TrimSpace(s))) {
	case "", ConversationEpisodeType:
		return ConversationEpisodeType, true
	case DocumentEpisodeType:
		return DocumentEpisodeType, true
	case ImageEpisodeType:
		return ImageEpisodeType, true
	}
	return "", false
}

// Versioned reports whether episodes of this type take part in version resolution.
func (t EpisodeType) Versioned() bool {
	return t == DocumentEpisodeType
}

// EntityType is the closed set of entity kinds.
type EntityType string

const (
	PersonEntity       EntityType = "Person"
	OrganizationEntity EntityType = "Organization"
	PlaceEntity        EntityType = "Place"
	EventEntity        EntityType = "Event"
	ProjectEntity      EntityType = "Project"
	TaskEntity         EntityType = "Task"
	TechnologyEntity   EntityType = "Technology"
	ProductEntity      EntityType = "Product"
	StandardEntity     EntityType = "Standard"
	ConceptEntity      EntityType = "Concept"
	PredicateEntity    EntityType = "Predicate"
)

var entityTypes = []EntityType{
	PersonEntity, OrganizationEntity, PlaceEntity, EventEntity, ProjectEntity, TaskEntity,
	TechnologyEntity, ProductEntity, StandardEntity, ConceptEntity, PredicateEntity,
}

// ParseEntityType matches case-insensitively. Unknown kinds map to Concept.
func ParseEntityType(s string) EntityType {
	s = strings.TrimSpace(s)
	for _, t := range entityTypes {
		if strings.EqualFold(string(t), s) {
			return t
		}
	}
	return ConceptEntity
}

// Aspect classifies what kind of knowledge a statement carries.
type Aspect string

const (
	IdentityAspect     Aspect = "Identity"
	KnowledgeAspect    Aspect = "Knowledge"
	BeliefAspect       Aspect = "Belief"
	PreferenceAspect   Aspect = "Preference"
	ActionAspect       Aspect = "Action"
	GoalAspect         Aspect = "Goal"
	DirectiveAspect    Aspect = "Directive"
	DecisionAspect     Aspect = "Decision"
	EventAspect        Aspect = "Event"
	ProblemAspect      Aspect = "Problem"
	RelationshipAspect Aspect = "Relationship"
)

var aspects = []Aspect{
	IdentityAspect, KnowledgeAspect, BeliefAspect, PreferenceAspect, ActionAspect, GoalAspect,
	DirectiveAspect, DecisionAspect, EventAspect, ProblemAspect, RelationshipAspect,
}

// ParseAspect matches case-insensitively. Unknown values map to Knowledge.
func ParseAspect(s string) Aspect {
	s = strings.TrimSpace(s)
	for _, a := range aspects {
		if strings.EqualFold(string(a), s) {
			return a
		}
	}
	return KnowledgeAspect
}

// Episode is one chunk of ingested content.
type Episode struct {
	UUID                     string      `json:"uuid"`
	Content                  string      `json:"content"`
	OriginalContent          string      `json:"originalContent"`
	Source                   string      `json:"source"`
	CreatedAt                time.Time   `json:"createdAt"`
	ValidAt                  time.Time   `json:"validAt"`
	SessionID                string      `json:"sessionId"`
	ChunkIndex               int         `json:"chunkIndex"`
	TotalChunks              int         `json:"totalChunks"`
	Type                     EpisodeType `json:"type"`
	UserID                   string      `json:"userId"`
	WorkspaceID              string      `json:"workspaceId"`
	LabelIDs                 []string    `json:"labelIds,omitempty"`
	Title                    string      `json:"title,omitempty"`
	Version                  int         `json:"version"`
	ContentHash              string      `json:"contentHash,omitempty"`
	ChunkHashes              []string    `json:"chunkHashes,omitempty"`
	PreviousVersionSessionID string      `json:"previousVersionSessionId,omitempty"`
	ContentEmbedding         []float32   `json:"-"`
}

// Tenant returns the episode's tenant scope.
func (e *Episode) Tenant() Tenant {
	return Tenant{UserID: e.UserID, WorkspaceID: e.WorkspaceID}
}

// Validate checks if the Episode has all required fields set.
func (e *Episode) Validate() error {
	if e.UUID == "" {
		return ErrEmptyUUID
	}
	if e.Content == "" {
		return ErrEmptyContent
	}
	if e.SessionID == "" {
		return ErrEmptySessionID
	}
	return e.Tenant().Validate()
}

// Entity is a named, typed node deduplicated per tenant.
type Entity struct {
	UUID           string     `json:"uuid"`
	Name           string     `json:"name"`
	NormalizedName string     `json:"-"`
	Type           EntityType `json:"type"`
	UserID         string     `json:"userId"`
	WorkspaceID    string     `json:"workspaceId"`
	NameEmbedding  []float32  `json:"-"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Tenant returns the entity's tenant scope.
func (e *Entity) Tenant() Tenant {
	return Tenant{UserID: e.UserID, WorkspaceID: e.WorkspaceID}
}

// NormalizeName lowercases, trims and collapses internal whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Statement is a reified, temporally scoped fact. InvalidAt is never cleared once set.
type Statement struct {
	UUID          string            `json:"uuid"`
	Fact          string            `json:"fact"`
	FactEmbedding []float32         `json:"-"`
	ValidAt       time.Time         `json:"validAt"`
	InvalidAt     *time.Time        `json:"invalidAt,omitempty"`
	InvalidatedBy string            `json:"invalidatedBy,omitempty"`
	Aspect        Aspect            `json:"aspect"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	UserID        string            `json:"userId"`
	WorkspaceID   string            `json:"workspaceId"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// Tenant returns the statement's tenant scope.
func (s *Statement) Tenant() Tenant {
	return Tenant{UserID: s.UserID, WorkspaceID: s.WorkspaceID}
}

// Active reports whether the statement has not been invalidated.
func (s *Statement) Active() bool {
	return s.InvalidAt == nil
}

// ValidDuring reports whether [validAt, invalidAt) overlaps [start, end]. Zero bounds are open.
func (s *Statement) ValidDuring(start, end time.Time) bool {
	if !end.IsZero() && s.ValidAt.After(end) {
		return false
	}
	if !start.IsZero() && s.InvalidAt != nil && !s.InvalidAt.After(start) {
		return false
	}
	return true
}

// Triple is the entity linkage of one statement plus its provenance episodes.
type Triple struct {
	Statement    Statement `json:"statement"`
	Subject      Entity    `json:"subject"`
	Predicate    Entity    `json:"predicate"`
	Object       Entity    `json:"object"`
	EpisodeUUIDs []string  `json:"episodeUuids"`
}

// SpaceKind separates topical spaces from the per-tenant persona document.
type SpaceKind string

const (
	TopicSpace   SpaceKind = "topic"
	PersonaSpace SpaceKind = "persona"
)

// Space is a named cluster of statements with an optional synthesized summary.
type Space struct {
	UUID              string        `json:"uuid"`
	Name              string        `json:"name"`
	Description       string        `json:"description,omitempty"`
	Kind              SpaceKind     `json:"kind"`
	IsActive          bool          `json:"isActive"`
	Summary           *SpaceSummary `json:"summary,omitempty"`
	LastSynthesizedAt *time.Time    `json:"lastSynthesizedAt,omitempty"`
	UserID            string        `json:"userId"`
	WorkspaceID       string        `json:"workspaceId"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// Tenant returns the space's tenant scope.
func (s *Space) Tenant() Tenant {
	return Tenant{UserID: s.UserID, WorkspaceID: s.WorkspaceID}
}

// SpaceSummary is the synthesized description of a space or persona.
type SpaceSummary struct {
	Overview      string    `json:"overview"`
	Themes        []string  `json:"themes,omitempty"`
	KeyFacts      []string  `json:"keyFacts,omitempty"`
	Style         string    `json:"style,omitempty"`
	EpisodeCount  int       `json:"episodeCount"`
	GeneratedAt   time.Time `json:"generatedAt"`
	GeneratedMode string    `json:"generatedMode"`
}

// CompactedSession summarizes a window of episodes from one session. Read-only once written.
type CompactedSession struct {
	UUID               string    `json:"uuid"`
	SessionID          string    `json:"sessionId"`
	Summary            string    `json:"summary"`
	EpisodeCount       int       `json:"episodeCount"`
	StartTime          time.Time `json:"startTime"`
	EndTime            time.Time `json:"endTime"`
	CompressionRatio   float64   `json:"compressionRatio"`
	Confidence         float64   `json:"confidence"`
	SourceEpisodeUUIDs []string  `json:"sourceEpisodeUuids"`
	UserID             string    `json:"userId"`
	WorkspaceID        string    `json:"workspaceId"`
	CreatedAt          time.Time `json:"createdAt"`
}
