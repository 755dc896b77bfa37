package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	jsonrepair "github.com/kaptinlin/jsonrepair"
	"gopkg.in/yaml.v3"

	"github.com/soundprediction/recall/pkg/types"
)

var (
	thinkTags  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFences = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")

	errEmptyOutput    = errors.New("empty output")
	errMissingTriples = errors.New(`missing "triples" key`)
)

type envelope struct {
	Triples []ExtractedTriple `json:"triples" yaml:"triples"`
}

// Clean strips reasoning tags and markdown code fences from model output.
func Clean(raw string) string {
	s := thinkTags.ReplaceAllString(raw, "")
	s = codeFences.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Parse decodes triples from model output. It accepts a {"triples": [...]}
// object or a bare list, as JSON (repaired if needed) or YAML.
func Parse(raw string) ([]ExtractedTriple, error) {
	s := Clean(raw)
	if s == "" {
		return nil, types.NewExtractionError(raw, errEmptyOutput)
	}

	if triples, err := decodeJSON(s); err == nil {
		return triples, nil
	}
	if start := strings.IndexAny(s, "{["); start >= 0 {
		repaired, err := jsonrepair.JSONRepair(s[start:])
		if err == nil {
			if triples, err := decodeJSON(repaired); err == nil {
				return triples, nil
			}
		}
	}

	triples, err := decodeYAML(s)
	if err != nil {
		return nil, types.NewExtractionError(raw, err)
	}
	return triples, nil
}

func decodeJSON(s string) ([]ExtractedTriple, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var list []ExtractedTriple
		if err := json.Unmarshal([]byte(s), &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, err
	}
	raw, ok := fields["triples"]
	if !ok {
		return nil, errMissingTriples
	}
	var list []ExtractedTriple
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func decodeYAML(s string) ([]ExtractedTriple, error) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(s), &node); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, errEmptyOutput
	}
	switch root := node.Content[0]; root.Kind {
	case yaml.SequenceNode:
		var list []ExtractedTriple
		if err := root.Decode(&list); err != nil {
			return nil, fmt.Errorf("failed to decode yaml triples: %w", err)
		}
		return list, nil
	case yaml.MappingNode:
		if !hasKey(root, "triples") {
			return nil, errMissingTriples
		}
		var env envelope
		if err := root.Decode(&env); err != nil {
			return nil, fmt.Errorf("failed to decode yaml triples: %w", err)
		}
		return env.Triples, nil
	default:
		return nil, fmt.Errorf("unexpected output: not a triple list")
	}
}

func hasKey(mapping *yaml.Node, key string) bool {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return true
		}
	}
	return false
}
