package validators

import (
	"context"
	"fmt"

	goyaml "github.com/goccy/go-yaml"

	"github.com/tbcv/engine/pkg/logger"
)

var seoLog = logger.New("validators:seo")

// SEOValidator checks front-matter title/description length windows and
// heading length caps, per spec.md §4.5.
type SEOValidator struct {
	cfg            ValidatorConfig
	titleMin       int
	titleMax       int
	descriptionMin int
	descriptionMax int
	headingMaxLen  int
}

func NewSEOValidator() *SEOValidator {
	return &SEOValidator{
		titleMin:       10,
		titleMax:       60,
		descriptionMin: 50,
		descriptionMax: 160,
		headingMaxLen:  70,
	}
}

func (v *SEOValidator) ID() string { return "seo" }

func (v *SEOValidator) Configure(cfg ValidatorConfig) error {
	v.cfg = cfg
	if cfg.Options == nil {
		return nil
	}
	setIntOption(cfg.Options, "title_min", &v.titleMin)
	setIntOption(cfg.Options, "title_max", &v.titleMax)
	setIntOption(cfg.Options, "description_min", &v.descriptionMin)
	setIntOption(cfg.Options, "description_max", &v.descriptionMax)
	setIntOption(cfg.Options, "heading_max_len", &v.headingMaxLen)
	return nil
}

func setIntOption(opts map[string]any, key string, dst *int) {
	if n, ok := opts[key].(float64); ok {
		*dst = int(n)
	}
}

func (v *SEOValidator) Validate(ctx context.Context, content []byte, vctx Context) ([]Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	block, startLine, found := extractFrontMatter(content)
	if !found {
		return nil, nil
	}

	var doc map[string]any
	if err := goyaml.Unmarshal(block, &doc); err != nil {
		// The yaml validator already reports parse errors; seo stays silent.
		return nil, nil
	}

	var issues []Issue

	title, _ := doc["title"].(string)
	if title == "" {
		issues = append(issues, Issue{
			Type:       "seo.missing_title",
			Severity:   "medium",
			Message:    "front matter has no title field",
			Location:   Location{Line: startLine},
			Confidence: 1.0,
		})
	} else if len(title) < v.titleMin || len(title) > v.titleMax {
		issues = append(issues, Issue{
			Type:       "seo.title_length",
			Severity:   "medium",
			Message:    fmt.Sprintf("title length %d is outside the recommended window [%d, %d]", len(title), v.titleMin, v.titleMax),
			Location:   Location{Line: startLine},
			Confidence: 0.9,
		})
	}

	description, hasDescription := doc["description"].(string)
	if !hasDescription || description == "" {
		if _, keyPresent := doc["description"]; !keyPresent {
			issues = append(issues, Issue{
				Type:       "seo.missing_description",
				Severity:   "medium",
				Message:    "front matter has no description field",
				Location:   Location{Line: startLine},
				Confidence: 1.0,
			})
		}
	} else if len(description) < v.descriptionMin || len(description) > v.descriptionMax {
		issues = append(issues, Issue{
			Type:       "seo.description_length",
			Severity:   "medium",
			Message:    fmt.Sprintf("description length %d is outside the recommended window [%d, %d]", len(description), v.descriptionMin, v.descriptionMax),
			Location:   Location{Line: startLine},
			Confidence: 0.9,
		})
	}

	for _, m := range sectionHeadingPattern.FindAllSubmatch(content, -1) {
		heading := string(m[1])
		if len(heading) > v.headingMaxLen {
			issues = append(issues, Issue{
				Type:       "seo.heading_length",
				Severity:   "low",
				Message:    fmt.Sprintf("heading %q (%d chars) exceeds recommended max %d", heading, len(heading), v.headingMaxLen),
				Confidence: 0.75,
			})
		}
	}

	seoLog.Printf("validated %s: %d issues", vctx.FilePath, len(issues))
	return issues, nil
}

var _ Validator = (*SEOValidator)(nil)
