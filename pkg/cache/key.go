package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// DeriveKey fingerprints (agentID, operation, input) into a stable,
// opaque cache key, per spec.md §4.2: "Keys are derived by hashing
// (agent_id, operation, canonicalized input)". input's map keys are
// sorted, its whitespace runs collapsed, and any key ending in the
// convention used by struct tag `cache:"-"` is expected to already be
// excluded by the caller before input reaches DeriveKey.
func DeriveKey(agentID, operation string, input map[string]any) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", agentID, operation)
	writeCanonical(h, input)
	return hex.EncodeToString(h.Sum(nil))
}

type hashWriter interface {
	Write(p []byte) (int, error)
}

func writeCanonical(h hashWriter, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "%s=", canonicalizeString(k))
			writeCanonical(h, val[k])
			fmt.Fprint(h, "\x1f")
		}
	case []any:
		for _, item := range val {
			writeCanonical(h, item)
			fmt.Fprint(h, "\x1e")
		}
	case string:
		fmt.Fprint(h, canonicalizeString(val))
	default:
		fmt.Fprintf(h, "%v", val)
	}
}

func canonicalizeString(s string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}
