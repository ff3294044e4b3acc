// Package truth implements the TruthIndex: per-family entity manifests
// (canonical names, aliases, compiled patterns, combination rules) loaded
// from a content-addressed directory and cached with a version tag, per
// spec.md §4.3.
package truth

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tbcv/engine/pkg/logger"
	"github.com/tbcv/engine/pkg/tbcverr"
)

var log = logger.New("truth")

// DefaultTTL is the cache lifetime for a loaded family manifest before it
// is eagerly re-read from disk, per spec.md §4.3.
const DefaultTTL = 7 * 24 * time.Hour

// Match is one hit returned by Index.Match: the entity found, its byte
// span within the input text, and a confidence score (1.0 for exact
// pattern/alias hits).
type Match struct {
	Entity *Entity
	Span   [2]int
	Score  float64
}

// Index is the TruthIndex interface described by spec.md §4.3.
type Index interface {
	// Lookup resolves name (canonical or alias) to its entity within
	// family. ok is false if the family has no such entity.
	Lookup(family, name string) (*Entity, bool, error)

	// Match runs every entity's compiled patterns against text and
	// returns every hit, confidence 1.0, per spec.md §4.4 step (a).
	Match(family, text string) ([]Match, error)

	// Combinations returns family's combination rules.
	Combinations(family string) ([]CombinationRule, error)

	// Version returns family's current manifest version tag (hex
	// SHA-256 of the raw manifest bytes).
	Version(family string) (string, error)

	// Entities returns every compiled entity in family, for callers
	// (e.g. FuzzyDetector) that need to score against the full set
	// rather than a single lookup.
	Entities(family string) ([]*Entity, error)
}

type familyCache struct {
	mu       sync.Mutex // single-writer: serializes reload for this family
	manifest *compiledManifest
	loadedAt time.Time
	sourcePath string
}

// DirIndex is an Index backed by one JSON manifest file per family in a
// configured directory, named "<family>.json".
type DirIndex struct {
	dir string
	ttl time.Duration

	mu        sync.Mutex // guards the families map itself, not its entries
	families  map[string]*familyCache
}

// NewDirIndex builds a DirIndex rooted at dir, caching each family's
// manifest for ttl (DefaultTTL if ttl <= 0).
func NewDirIndex(dir string, ttl time.Duration) *DirIndex {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DirIndex{dir: dir, ttl: ttl, families: make(map[string]*familyCache)}
}

func (idx *DirIndex) entry(family string) *familyCache {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	fc, ok := idx.families[family]
	if !ok {
		fc = &familyCache{sourcePath: filepath.Join(idx.dir, family+".json")}
		idx.families[family] = fc
	}
	return fc
}

// resolve loads (or reloads, on TTL expiry or a raw-bytes version change)
// family's manifest, guarded by that family's single-writer mutex so
// concurrent readers never observe a half-swapped index.
func (idx *DirIndex) resolve(family string) (*compiledManifest, error) {
	fc := idx.entry(family)

	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.manifest != nil && time.Since(fc.loadedAt) < idx.ttl {
		return fc.manifest, nil
	}

	raw, err := os.ReadFile(fc.sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tbcverr.Newf(tbcverr.NotFound, "no truth manifest for family %q", family)
		}
		return nil, fmt.Errorf("truth: reading manifest for family %q: %w", family, err)
	}

	if fc.manifest != nil {
		if fc.manifest.version == sha256Hex(raw) {
			// Unchanged on disk; just refresh the TTL clock.
			fc.loadedAt = time.Now()
			return fc.manifest, nil
		}
		log.Printf("family %q manifest changed, reloading", family)
	}

	compiled, err := parseManifest(raw)
	if err != nil {
		return nil, err
	}
	fc.manifest = compiled
	fc.loadedAt = time.Now()
	return compiled, nil
}

func (idx *DirIndex) Lookup(family, name string) (*Entity, bool, error) {
	cm, err := idx.resolve(family)
	if err != nil {
		return nil, false, err
	}
	if e, ok := cm.byCanonicalName[name]; ok {
		return e, true, nil
	}
	for _, e := range cm.entities {
		if e.HasAlias(name) {
			return e, true, nil
		}
	}
	return nil, false, nil
}

func (idx *DirIndex) Match(family, text string) ([]Match, error) {
	cm, err := idx.resolve(family)
	if err != nil {
		return nil, err
	}
	var matches []Match
	for _, e := range cm.entities {
		for _, pattern := range e.Patterns {
			for _, loc := range pattern.FindAllStringIndex(text, -1) {
				matches = append(matches, Match{Entity: e, Span: [2]int{loc[0], loc[1]}, Score: 1.0})
			}
		}
	}
	return matches, nil
}

func (idx *DirIndex) Combinations(family string) ([]CombinationRule, error) {
	cm, err := idx.resolve(family)
	if err != nil {
		return nil, err
	}
	return cm.combinationRules, nil
}

func (idx *DirIndex) Version(family string) (string, error) {
	cm, err := idx.resolve(family)
	if err != nil {
		return "", err
	}
	return cm.version, nil
}

func (idx *DirIndex) Entities(family string) ([]*Entity, error) {
	cm, err := idx.resolve(family)
	if err != nil {
		return nil, err
	}
	return cm.entities, nil
}

var _ Index = (*DirIndex)(nil)
