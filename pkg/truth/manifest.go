package truth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tbcv/engine/pkg/tbcverr"
)

// manifestSchemaJSON validates the shape of a family manifest before it is
// compiled: missing entities, malformed patterns, or a combination rule
// referencing an unknown entity are all rejected at this stage, per
// spec.md §4.3.
const manifestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["family", "entities"],
  "properties": {
    "family": {"type": "string", "minLength": 1},
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["canonical_name"],
        "properties": {
          "canonical_name": {"type": "string", "minLength": 1},
          "aliases": {"type": "array", "items": {"type": "string"}},
          "patterns": {"type": "array", "items": {"type": "string"}},
          "metadata": {"type": "object"}
        }
      }
    },
    "combination_rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind", "entities"],
        "properties": {
          "kind": {"type": "string", "enum": ["requires", "forbids"]},
          "entities": {"type": "array", "items": {"type": "string"}, "minItems": 2}
        }
      }
    }
  }
}`

var compiledManifestSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal([]byte(manifestSchemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("truth: manifest schema is invalid JSON: %v", err))
	}
	const schemaURL = "https://tbcv.internal/schemas/truth-manifest.json"
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		panic(fmt.Sprintf("truth: failed to register manifest schema: %v", err))
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("truth: failed to compile manifest schema: %v", err))
	}
	compiledManifestSchema = schema
}

// rawManifest is the on-disk JSON shape of a family manifest.
type rawManifest struct {
	Family           string            `json:"family"`
	Entities         []rawEntity       `json:"entities"`
	CombinationRules []CombinationRule `json:"combination_rules"`
}

type rawEntity struct {
	CanonicalName string         `json:"canonical_name"`
	Aliases       []string       `json:"aliases"`
	Patterns      []string       `json:"patterns"`
	Metadata      map[string]any `json:"metadata"`
}

// CombinationRule is a "requires {A,B}" or "forbids {A,B}" constraint
// between canonical entity names within one family, per spec.md §3.
type CombinationRule struct {
	Kind     string   `json:"kind"` // requires | forbids
	Entities []string `json:"entities"`
}

// Entity is a compiled TruthEntity: its aliases are a lookup set and its
// patterns are compiled regular expressions, per spec.md §3.
type Entity struct {
	Family        string
	CanonicalName string
	Aliases       map[string]struct{}
	Patterns      []*regexp.Regexp
	Metadata      map[string]any
}

// HasAlias reports whether name matches the entity's canonical name or
// any of its aliases, case-sensitively.
func (e *Entity) HasAlias(name string) bool {
	if name == e.CanonicalName {
		return true
	}
	_, ok := e.Aliases[name]
	return ok
}

// compiledManifest is the parsed, schema-validated, pattern-compiled form
// of one family's manifest, plus its version tag.
type compiledManifest struct {
	family           string
	version          string
	entities         []*Entity
	byCanonicalName  map[string]*Entity
	combinationRules []CombinationRule
}

// parseManifest schema-validates raw bytes, then compiles every entity's
// patterns and indexes entities by canonical name. Any failure is
// TruthDataInvalid, per spec.md §4.3.
func parseManifest(raw []byte) (*compiledManifest, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, tbcverr.Wrap(tbcverr.TruthDataInvalid, err, "manifest is not valid JSON")
	}
	if err := compiledManifestSchema.Validate(doc); err != nil {
		return nil, tbcverr.Wrap(tbcverr.TruthDataInvalid, err, "manifest failed schema validation")
	}

	var rm rawManifest
	if err := json.Unmarshal(raw, &rm); err != nil {
		return nil, tbcverr.Wrap(tbcverr.TruthDataInvalid, err, "manifest could not be decoded")
	}

	cm := &compiledManifest{
		family:           rm.Family,
		version:          sha256Hex(raw),
		byCanonicalName:  make(map[string]*Entity, len(rm.Entities)),
		combinationRules: rm.CombinationRules,
	}

	for _, re := range rm.Entities {
		entity := &Entity{
			Family:        rm.Family,
			CanonicalName: re.CanonicalName,
			Aliases:       make(map[string]struct{}, len(re.Aliases)),
			Metadata:      re.Metadata,
		}
		for _, alias := range re.Aliases {
			entity.Aliases[alias] = struct{}{}
		}
		for _, pattern := range re.Patterns {
			compiled, err := regexp.Compile(pattern)
			if err != nil {
				return nil, tbcverr.Wrapf(tbcverr.TruthDataInvalid, err,
					"entity %q has malformed pattern %q", re.CanonicalName, pattern)
			}
			entity.Patterns = append(entity.Patterns, compiled)
		}
		if _, dup := cm.byCanonicalName[entity.CanonicalName]; dup {
			return nil, tbcverr.Newf(tbcverr.TruthDataInvalid,
				"duplicate entity canonical_name %q in family %q", entity.CanonicalName, rm.Family)
		}
		cm.byCanonicalName[entity.CanonicalName] = entity
		cm.entities = append(cm.entities, entity)
	}

	for _, rule := range cm.combinationRules {
		for _, name := range rule.Entities {
			if _, ok := cm.byCanonicalName[name]; !ok {
				return nil, tbcverr.Newf(tbcverr.TruthDataInvalid,
					"combination rule references unknown entity %q in family %q", name, rm.Family)
			}
		}
	}

	return cm, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
