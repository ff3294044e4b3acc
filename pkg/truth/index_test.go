package truth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbcv/engine/pkg/tbcverr"
)

func writeManifest(t *testing.T, dir, family, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, family+".json"), []byte(content), 0o644))
}

const reactManifest = `{
  "family": "react",
  "entities": [
    {
      "canonical_name": "useEffect",
      "aliases": ["UseEffect"],
      "patterns": ["\\buseEffect\\("],
      "metadata": {"deprecated": false}
    },
    {
      "canonical_name": "useState",
      "aliases": [],
      "patterns": ["\\buseState\\("],
      "metadata": {}
    }
  ],
  "combination_rules": [
    {"kind": "requires", "entities": ["useEffect", "useState"]}
  ]
}`

func TestLookupByCanonicalNameAndAlias(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "react", reactManifest)
	idx := NewDirIndex(dir, time.Hour)

	e, ok, err := idx.Lookup("react", "useEffect")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "useEffect", e.CanonicalName)

	e, ok, err = idx.Lookup("react", "UseEffect")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "useEffect", e.CanonicalName)

	_, ok, err = idx.Lookup("react", "useMemo")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchFindsPatternHitsWithFullConfidence(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "react", reactManifest)
	idx := NewDirIndex(dir, time.Hour)

	matches, err := idx.Match("react", "function Widget() { useEffect(() => {}, []) }")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "useEffect", matches[0].Entity.CanonicalName)
	assert.Equal(t, 1.0, matches[0].Score)
}

func TestCombinationsReturnsRules(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "react", reactManifest)
	idx := NewDirIndex(dir, time.Hour)

	rules, err := idx.Combinations("react")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "requires", rules[0].Kind)
}

func TestUnknownFamilyIsNotFound(t *testing.T) {
	dir := t.TempDir()
	idx := NewDirIndex(dir, time.Hour)
	_, err := idx.Version("nonexistent")
	require.Error(t, err)
	assert.True(t, tbcverr.Is(err, tbcverr.NotFound))
}

func TestMalformedManifestIsTruthDataInvalid(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "broken", `{"family": "broken", "entities": [{"canonical_name": "x", "patterns": ["("]}]}`)
	idx := NewDirIndex(dir, time.Hour)

	_, err := idx.Version("broken")
	require.Error(t, err)
	assert.True(t, tbcverr.Is(err, tbcverr.TruthDataInvalid))
}

func TestCombinationRuleReferencingUnknownEntityIsInvalid(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "broken", `{
		"family": "broken",
		"entities": [{"canonical_name": "a"}],
		"combination_rules": [{"kind": "requires", "entities": ["a", "ghost"]}]
	}`)
	idx := NewDirIndex(dir, time.Hour)

	_, err := idx.Version("broken")
	assert.True(t, tbcverr.Is(err, tbcverr.TruthDataInvalid))
}

func TestReloadOnVersionChange(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "react", reactManifest)
	idx := NewDirIndex(dir, time.Hour) // long TTL; change should still force reload

	v1, err := idx.Version("react")
	require.NoError(t, err)

	updated := `{"family": "react", "entities": [{"canonical_name": "useRef", "aliases": [], "patterns": []}]}`
	writeManifest(t, dir, "react", updated)

	v2, err := idx.Version("react")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	_, ok, err := idx.Lookup("react", "useRef")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnchangedManifestIsNotReparsedWithinTTL(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "react", reactManifest)
	idx := NewDirIndex(dir, time.Hour)

	v1, err := idx.Version("react")
	require.NoError(t, err)
	v2, err := idx.Version("react")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestEntitiesReturnsAllCompiledEntities(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "react", reactManifest)
	idx := NewDirIndex(dir, time.Hour)

	entities, err := idx.Entities("react")
	require.NoError(t, err)
	assert.Len(t, entities, 2)
}

func TestDuplicateCanonicalNameIsInvalid(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "dup", `{
		"family": "dup",
		"entities": [
			{"canonical_name": "x"},
			{"canonical_name": "x"}
		]
	}`)
	idx := NewDirIndex(dir, time.Hour)

	_, err := idx.Version("dup")
	assert.True(t, tbcverr.Is(err, tbcverr.TruthDataInvalid))
}
