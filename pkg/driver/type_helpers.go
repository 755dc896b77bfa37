package driver

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/soundprediction/recall/pkg/types"
)

// TypeConversionError represents an error during type conversion from database types.
type TypeConversionError struct {
	Expected string
	Actual   string
	Field    string
}

func (e *TypeConversionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("type conversion error for field %q: expected %s, got %s", e.Field, e.Expected, e.Actual)
	}
	return fmt.Sprintf("type conversion error: expected %s, got %s", e.Expected, e.Actual)
}

// NewTypeConversionError creates a new TypeConversionError.
func NewTypeConversionError(expected, actual, field string) *TypeConversionError {
	return &TypeConversionError{Expected: expected, Actual: actual, Field: field}
}

// AsDBNode safely converts an interface{} to dbtype.Node.
func AsDBNode(v any) (dbtype.Node, bool) {
	if v == nil {
		return dbtype.Node{}, false
	}
	node, ok := v.(dbtype.Node)
	return node, ok
}

// AsString safely converts an interface{} to string.
func AsString(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// AsInt64 safely converts an interface{} to int64.
func AsInt64(v any) (int64, bool) {
	if v == nil {
		return 0, false
	}
	i, ok := v.(int64)
	return i, ok
}

// AsFloat64 safely converts an interface{} to float64.
func AsFloat64(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// AsBool safely converts an interface{} to bool.
func AsBool(v any) (bool, bool) {
	if v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// AsStringSlice converts a list value to []string. Neo4j returns lists as []any.
func AsStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

// MustDBNode converts a record field to dbtype.Node or returns an error.
func MustDBNode(rec *db.Record, field string) (dbtype.Node, error) {
	v, _ := rec.Get(field)
	node, ok := AsDBNode(v)
	if !ok {
		return dbtype.Node{}, NewTypeConversionError("dbtype.Node", fmt.Sprintf("%T", v), field)
	}
	return node, nil
}

// MustString converts a record field to string or returns an error.
func MustString(rec *db.Record, field string) (string, error) {
	v, _ := rec.Get(field)
	s, ok := AsString(v)
	if !ok {
		return "", NewTypeConversionError("string", fmt.Sprintf("%T", v), field)
	}
	return s, nil
}

// recordStrings reads a list-of-strings record field; missing or null yields nil.
func recordStrings(rec *db.Record, field string) []string {
	v, _ := rec.Get(field)
	s, _ := AsStringSlice(v)
	return s
}

// recordLabelLists flattens a collected list of label lists.
func recordLabelLists(rec *db.Record, field string) []string {
	v, _ := rec.Get(field)
	lists, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, l := range lists {
		if s, ok := AsStringSlice(l); ok {
			out = append(out, s...)
		}
	}
	return out
}

type props map[string]any

func (p props) str(key string) string {
	s, _ := AsString(p[key])
	return s
}

func (p props) int(key string) int {
	i, _ := AsInt64(p[key])
	return int(i)
}

func (p props) float(key string) float64 {
	f, _ := AsFloat64(p[key])
	return f
}

func (p props) bool(key string) bool {
	b, _ := AsBool(p[key])
	return b
}

func (p props) strings(key string) []string {
	s, _ := AsStringSlice(p[key])
	return s
}

func (p props) time(key string) time.Time {
	s, ok := AsString(p[key])
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (p props) timePtr(key string) *time.Time {
	t := p.time(key)
	if t.IsZero() {
		return nil
	}
	return &t
}

// embedding decodes a vector stored as a JSON string.
func (p props) embedding(key string) []float32 {
	s, ok := AsString(p[key])
	if !ok || s == "" {
		return nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

func (p props) stringMap(key string) map[string]string {
	s, ok := AsString(p[key])
	if !ok || s == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func encodeEmbedding(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return encodeJSON(v)
}

func episodeFromNode(n dbtype.Node) types.Episode {
	p := props(n.Props)
	return types.Episode{
		UUID:                     p.str("uuid"),
		Content:                  p.str("content"),
		OriginalContent:          p.str("originalContent"),
		Source:                   p.str("source"),
		CreatedAt:                p.time("createdAt"),
		ValidAt:                  p.time("validAt"),
		SessionID:                p.str("sessionId"),
		ChunkIndex:               p.int("chunkIndex"),
		TotalChunks:              p.int("totalChunks"),
		Type:                     types.EpisodeType(p.str("type")),
		UserID:                   p.str("userId"),
		WorkspaceID:              p.str("workspaceId"),
		LabelIDs:                 p.strings("labelIds"),
		Title:                    p.str("title"),
		Version:                  p.int("version"),
		ContentHash:              p.str("contentHash"),
		ChunkHashes:              p.strings("chunkHashes"),
		PreviousVersionSessionID: p.str("previousVersionSessionId"),
		ContentEmbedding:         p.embedding("contentEmbedding"),
	}
}

func episodeProps(ep *types.Episode) map[string]any {
	labels := ep.LabelIDs
	if labels == nil {
		labels = []string{}
	}
	hashes := ep.ChunkHashes
	if hashes == nil {
		hashes = []string{}
	}
	return map[string]any{
		"uuid":                     ep.UUID,
		"content":                  ep.Content,
		"originalContent":          ep.OriginalContent,
		"source":                   ep.Source,
		"createdAt":                formatTime(ep.CreatedAt),
		"validAt":                  formatTime(ep.ValidAt),
		"sessionId":                ep.SessionID,
		"chunkIndex":               int64(ep.ChunkIndex),
		"totalChunks":              int64(ep.TotalChunks),
		"type":                     string(ep.Type),
		"userId":                   ep.UserID,
		"workspaceId":              ep.WorkspaceID,
		"labelIds":                 labels,
		"title":                    ep.Title,
		"version":                  int64(ep.Version),
		"contentHash":              ep.ContentHash,
		"chunkHashes":              hashes,
		"previousVersionSessionId": ep.PreviousVersionSessionID,
		"contentEmbedding":         encodeEmbedding(ep.ContentEmbedding),
	}
}

func entityFromNode(n dbtype.Node) types.Entity {
	p := props(n.Props)
	return types.Entity{
		UUID:           p.str("uuid"),
		Name:           p.str("name"),
		NormalizedName: p.str("normalizedName"),
		Type:           types.EntityType(p.str("type")),
		UserID:         p.str("userId"),
		WorkspaceID:    p.str("workspaceId"),
		NameEmbedding:  p.embedding("nameEmbedding"),
		CreatedAt:      p.time("createdAt"),
	}
}

func entityProps(e *types.Entity) map[string]any {
	return map[string]any{
		"uuid":           e.UUID,
		"name":           e.Name,
		"normalizedName": e.NormalizedName,
		"type":           string(e.Type),
		"userId":         e.UserID,
		"workspaceId":    e.WorkspaceID,
		"nameEmbedding":  encodeEmbedding(e.NameEmbedding),
		"createdAt":      formatTime(e.CreatedAt),
	}
}

func statementFromNode(n dbtype.Node) types.Statement {
	p := props(n.Props)
	return types.Statement{
		UUID:          p.str("uuid"),
		Fact:          p.str("fact"),
		FactEmbedding: p.embedding("factEmbedding"),
		ValidAt:       p.time("validAt"),
		InvalidAt:     p.timePtr("invalidAt"),
		InvalidatedBy: p.str("invalidatedBy"),
		Aspect:        types.Aspect(p.str("aspect")),
		Attributes:    p.stringMap("attributes"),
		UserID:        p.str("userId"),
		WorkspaceID:   p.str("workspaceId"),
		CreatedAt:     p.time("createdAt"),
	}
}

func statementProps(s *types.Statement) map[string]any {
	var attrs any
	if len(s.Attributes) > 0 {
		attrs = encodeJSON(s.Attributes)
	}
	return map[string]any{
		"uuid":          s.UUID,
		"fact":          s.Fact,
		"factEmbedding": encodeEmbedding(s.FactEmbedding),
		"validAt":       formatTime(s.ValidAt),
		"invalidAt":     formatTimePtr(s.InvalidAt),
		"invalidatedBy": s.InvalidatedBy,
		"aspect":        string(s.Aspect),
		"attributes":    attrs,
		"userId":        s.UserID,
		"workspaceId":   s.WorkspaceID,
		"createdAt":     formatTime(s.CreatedAt),
	}
}

func spaceFromNode(n dbtype.Node) types.Space {
	p := props(n.Props)
	sp := types.Space{
		UUID:              p.str("uuid"),
		Name:              p.str("name"),
		Description:       p.str("description"),
		Kind:              types.SpaceKind(p.str("kind")),
		IsActive:          p.bool("isActive"),
		LastSynthesizedAt: p.timePtr("lastSynthesizedAt"),
		UserID:            p.str("userId"),
		WorkspaceID:       p.str("workspaceId"),
		CreatedAt:         p.time("createdAt"),
		UpdatedAt:         p.time("updatedAt"),
	}
	if raw := p.str("summary"); raw != "" {
		var summary types.SpaceSummary
		if err := json.Unmarshal([]byte(raw), &summary); err == nil {
			sp.Summary = &summary
		}
	}
	return sp
}

func spaceProps(s *types.Space) map[string]any {
	var summary any
	if s.Summary != nil {
		summary = encodeJSON(s.Summary)
	}
	return map[string]any{
		"uuid":              s.UUID,
		"name":              s.Name,
		"description":       s.Description,
		"kind":              string(s.Kind),
		"isActive":          s.IsActive,
		"summary":           summary,
		"lastSynthesizedAt": formatTimePtr(s.LastSynthesizedAt),
		"userId":            s.UserID,
		"workspaceId":       s.WorkspaceID,
		"createdAt":         formatTime(s.CreatedAt),
		"updatedAt":         formatTime(s.UpdatedAt),
	}
}

func compactedFromNode(n dbtype.Node, sources []string) types.CompactedSession {
	p := props(n.Props)
	return types.CompactedSession{
		UUID:               p.str("uuid"),
		SessionID:          p.str("sessionId"),
		Summary:            p.str("summary"),
		EpisodeCount:       p.int("episodeCount"),
		StartTime:          p.time("startTime"),
		EndTime:            p.time("endTime"),
		CompressionRatio:   p.float("compressionRatio"),
		Confidence:         p.float("confidence"),
		SourceEpisodeUUIDs: sources,
		UserID:             p.str("userId"),
		WorkspaceID:        p.str("workspaceId"),
		CreatedAt:          p.time("createdAt"),
	}
}

func compactedProps(c *types.CompactedSession) map[string]any {
	return map[string]any{
		"uuid":             c.UUID,
		"sessionId":        c.SessionID,
		"summary":          c.Summary,
		"episodeCount":     int64(c.EpisodeCount),
		"startTime":        formatTime(c.StartTime),
		"endTime":          formatTime(c.EndTime),
		"compressionRatio": c.CompressionRatio,
		"confidence":       c.Confidence,
		"userId":           c.UserID,
		"workspaceId":      c.WorkspaceID,
		"createdAt":        formatTime(c.CreatedAt),
	}
}

// tripleFromRecord decodes the projection produced by returnTriple.
func tripleFromRecord(rec *db.Record) (*types.Triple, []string, error) {
	s, err := MustDBNode(rec, "s")
	if err != nil {
		return nil, nil, err
	}
	sub, err := MustDBNode(rec, "sub")
	if err != nil {
		return nil, nil, err
	}
	pred, err := MustDBNode(rec, "pred")
	if err != nil {
		return nil, nil, err
	}
	obj, err := MustDBNode(rec, "obj")
	if err != nil {
		return nil, nil, err
	}
	return &types.Triple{
		Statement:    statementFromNode(s),
		Subject:      entityFromNode(sub),
		Predicate:    entityFromNode(pred),
		Object:       entityFromNode(obj),
		EpisodeUUIDs: recordStrings(rec, "episodeUuids"),
	}, recordLabelLists(rec, "episodeLabels"), nil
}
