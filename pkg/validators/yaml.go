package validators

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	goyaml "github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/ast"
	"github.com/goccy/go-yaml/parser"

	"github.com/tbcv/engine/pkg/logger"
)

var yamlLog = logger.New("validators:yaml")

const frontMatterDelim = "---"

// YAMLValidator parses and checks the front matter delimited by --- lines,
// per spec.md §4.5.
type YAMLValidator struct {
	cfg            ValidatorConfig
	requiredFields []string
	fieldTypes     map[string]string // field name -> "string"|"number"|"bool"|"sequence"|"mapping"
	rejectUnknown  bool
	requireBlock   bool
	knownFields    map[string]bool
}

func NewYAMLValidator() *YAMLValidator {
	return &YAMLValidator{
		fieldTypes:  map[string]string{},
		knownFields: map[string]bool{},
	}
}

func (v *YAMLValidator) ID() string { return "yaml" }

func (v *YAMLValidator) Configure(cfg ValidatorConfig) error {
	v.cfg = cfg
	if cfg.Options == nil {
		return nil
	}
	if raw, ok := cfg.Options["required_fields"].([]any); ok {
		for _, f := range raw {
			if s, ok := f.(string); ok {
				v.requiredFields = append(v.requiredFields, s)
				v.knownFields[s] = true
			}
		}
	}
	if raw, ok := cfg.Options["field_types"].(map[string]any); ok {
		for k, t := range raw {
			if s, ok := t.(string); ok {
				v.fieldTypes[k] = s
				v.knownFields[k] = true
			}
		}
	}
	if b, ok := cfg.Options["reject_unknown_fields"].(bool); ok {
		v.rejectUnknown = b
	}
	if b, ok := cfg.Options["require_front_matter"].(bool); ok {
		v.requireBlock = b
	}
	return nil
}

func (v *YAMLValidator) Validate(ctx context.Context, content []byte, vctx Context) ([]Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	block, startLine, found := extractFrontMatter(content)
	if !found {
		yamlLog.Printf("no front matter block in %s", vctx.FilePath)
		if v.requireBlock {
			return []Issue{{
				Type:       "yaml.no_front_matter",
				Severity:   "info",
				Message:    "file has no --- delimited front matter block",
				Confidence: 1.0,
			}}, nil
		}
		return nil, nil
	}

	var issues []Issue

	file, err := parser.ParseBytes(block, 0)
	if err != nil {
		return []Issue{{
			Type:       "yaml.parse_error",
			Severity:   "critical",
			Message:    fmt.Sprintf("front matter is not valid YAML: %v", err),
			Location:   Location{Line: startLine},
			Confidence: 1.0,
		}}, nil
	}

	var doc map[string]any
	if err := goyaml.Unmarshal(block, &doc); err != nil {
		return []Issue{{
			Type:       "yaml.parse_error",
			Severity:   "critical",
			Message:    fmt.Sprintf("front matter failed to decode: %v", err),
			Location:   Location{Line: startLine},
			Confidence: 1.0,
		}}, nil
	}

	issues = append(issues, v.checkDuplicateKeys(file, startLine)...)

	for _, field := range v.requiredFields {
		if _, ok := doc[field]; !ok {
			issues = append(issues, Issue{
				Type:       "yaml.missing_required_field",
				Severity:   "critical",
				Message:    fmt.Sprintf("required field %q is missing", field),
				Location:   Location{Line: startLine},
				Confidence: 1.0,
			})
		}
	}

	for field, wantType := range v.fieldTypes {
		val, ok := doc[field]
		if !ok {
			continue
		}
		if gotType := scalarKind(val); gotType != wantType {
			issues = append(issues, Issue{
				Type:       "yaml.wrong_type",
				Severity:   "critical",
				Message:    fmt.Sprintf("field %q should be %s, found %s", field, wantType, gotType),
				Location:   Location{Line: startLine},
				Confidence: 1.0,
			})
		}
	}

	if v.rejectUnknown {
		for field := range doc {
			if !v.knownFields[field] {
				issues = append(issues, Issue{
					Type:       "yaml.unknown_field",
					Severity:   "warning",
					Message:    fmt.Sprintf("field %q is not recognized", field),
					Location:   Location{Line: startLine},
					Confidence: 0.8,
				})
			}
		}
	}

	return issues, nil
}

// checkDuplicateKeys walks the mapping's AST to find duplicate top-level
// keys; goccy/go-yaml's Unmarshal silently keeps the last one, so this
// check can only be done against the parsed node tree.
func (v *YAMLValidator) checkDuplicateKeys(file *ast.File, startLine int) []Issue {
	var issues []Issue
	seen := map[string]bool{}
	for _, doc := range file.Docs {
		mapping, ok := doc.Body.(*ast.MappingNode)
		if !ok {
			continue
		}
		for _, value := range mapping.Values {
			key := value.Key.String()
			if seen[key] {
				issues = append(issues, Issue{
					Type:       "yaml.duplicate_key",
					Severity:   "critical",
					Message:    fmt.Sprintf("front matter has duplicate key %q", key),
					Location:   Location{Line: startLine + value.Key.GetToken().Position.Line - 1},
					Confidence: 1.0,
				})
			}
			seen[key] = true
		}
	}
	return issues
}

// extractFrontMatter returns the YAML block between the opening and
// closing --- delimiters (exclusive of the delimiter lines themselves)
// and the 1-indexed line the block starts on.
func extractFrontMatter(content []byte) (block []byte, startLine int, found bool) {
	lines := bytes.Split(content, []byte("\n"))
	if len(lines) == 0 || strings.TrimSpace(string(lines[0])) != frontMatterDelim {
		return nil, 0, false
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(string(lines[i])) == frontMatterDelim {
			return bytes.Join(lines[1:i], []byte("\n")), 2, true
		}
	}
	return nil, 0, false
}

func scalarKind(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case int, int64, uint64, float64:
		return "number"
	case bool:
		return "bool"
	case []any:
		return "sequence"
	case map[string]any:
		return "mapping"
	default:
		return "unknown"
	}
}

var _ Validator = (*YAMLValidator)(nil)
