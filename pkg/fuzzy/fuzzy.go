// Package fuzzy implements the FuzzyDetector: given text and a family, it
// finds exact and near-match occurrences of the family's truth entities,
// per spec.md §4.4.
package fuzzy

import (
	"context"
	"sort"

	"github.com/tbcv/engine/pkg/truth"
)

// Detection is one hit returned by Detector.Detect.
type Detection struct {
	Name       string  `json:"name"`
	Span       [2]int  `json:"span"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
}

// Detector is the FuzzyDetector interface described by spec.md §4.4.
// Implementations must be deterministic: the same (text, family, truth
// version, threshold) always produces the same output, in the same
// order.
type Detector interface {
	Detect(ctx context.Context, text, family string) ([]Detection, error)
}

// TruthDetector is the Detector implementation grounded on a truth.Index.
type TruthDetector struct {
	Index     truth.Index
	Threshold float64 // default 0.85 when zero
}

// NewTruthDetector builds a TruthDetector. A non-positive threshold falls
// back to the spec default of 0.85.
func NewTruthDetector(index truth.Index, threshold float64) *TruthDetector {
	if threshold <= 0 {
		threshold = 0.85
	}
	return &TruthDetector{Index: index, Threshold: threshold}
}

func (d *TruthDetector) Detect(ctx context.Context, text, family string) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var detections []Detection
	covered := make(map[[2]int]bool)

	// Step (a): exact pattern/alias hits, confidence 1.0.
	matches, err := d.Index.Match(family, text)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		detections = append(detections, Detection{
			Name:       m.Entity.CanonicalName,
			Span:       m.Span,
			Confidence: m.Score,
			Evidence:   text[m.Span[0]:m.Span[1]],
		})
		covered[m.Span] = true
	}

	// Step (b): tokenize candidate identifiers, score against every
	// entity's canonical name and aliases, keep the max of normalized
	// Levenshtein and Jaro-Winkler.
	entities, err := d.Index.Entities(family)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return sortDeterministic(detections), nil
	}

	for _, tok := range tokenize(text) {
		if covered[tok.span] {
			continue
		}
		bestScore := -1.0
		var bestName string
		for _, e := range entities {
			for _, candidate := range candidateNames(e) {
				score := maxSimilarity(tok.text, candidate)
				if score > bestScore {
					bestScore = score
					bestName = e.CanonicalName
				}
			}
		}
		if bestScore >= d.Threshold {
			detections = append(detections, Detection{
				Name:       bestName,
				Span:       tok.span,
				Confidence: bestScore,
				Evidence:   tok.text,
			})
		}
	}

	return sortDeterministic(detections), nil
}

func candidateNames(e *truth.Entity) []string {
	names := make([]string, 0, len(e.Aliases)+1)
	names = append(names, e.CanonicalName)
	for alias := range e.Aliases {
		names = append(names, alias)
	}
	return names
}

func maxSimilarity(a, b string) float64 {
	lev := normalizedLevenshteinSimilarity(a, b)
	jw := jaroWinkler(a, b)
	if jw > lev {
		return jw
	}
	return lev
}

// sortDeterministic applies the tie-break rule from spec.md §4.4: higher
// score, then shorter span, then earlier offset.
func sortDeterministic(detections []Detection) []Detection {
	sort.SliceStable(detections, func(i, j int) bool {
		a, b := detections[i], detections[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		lenA, lenB := a.Span[1]-a.Span[0], b.Span[1]-b.Span[0]
		if lenA != lenB {
			return lenA < lenB
		}
		return a.Span[0] < b.Span[0]
	})
	return detections
}

var _ Detector = (*TruthDetector)(nil)
