package validators

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/tbcv/engine/pkg/logger"
)

var codeLog = logger.New("validators:code")

// credentialPattern describes one credential-shaped token family.
type credentialPattern struct {
	name string
	re   *regexp2.Regexp
}

// credentialPatterns mirrors the class of check a static-analysis secret
// scanner performs, grounded in the same "known key shape" approach as
// pkg/stringutil's SanitizeErrorMessage but matching credential *values*
// rather than key *names*. The generic assignment pattern needs a
// backreference (the closing quote must match the opening one), which the
// standard library's regexp cannot express; regexp2 can.
var credentialPatterns = []credentialPattern{
	{name: "aws_access_key", re: regexp2.MustCompile(`\bAKIA[0-9A-Z]{16}\b`, regexp2.None)},
	{name: "bearer_token", re: regexp2.MustCompile(`\bBearer\s+[A-Za-z0-9\-_.]{20,}\b`, regexp2.None)},
	{name: "jwt", re: regexp2.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`, regexp2.None)},
	{
		name: "generic_assignment",
		re: regexp2.MustCompile(`(?i)\b[A-Z0-9_]*(SECRET|TOKEN|PASSWORD|API_KEY|ACCESS_KEY)[A-Z0-9_]*\s*[:=]\s*(['"])[A-Za-z0-9\-_/+=]{16,}\2`, regexp2.None),
	},
}

var fencedLangPattern = "```"

// CodeValidator checks fenced code blocks for language identifiers and
// closure, and scans fenced and inline code spans for credential-shaped
// tokens, per spec.md §4.5.
type CodeValidator struct {
	cfg            ValidatorConfig
	knownLanguages map[string]bool
}

func NewCodeValidator() *CodeValidator {
	return &CodeValidator{
		knownLanguages: map[string]bool{
			"go": true, "python": true, "js": true, "javascript": true, "ts": true,
			"typescript": true, "bash": true, "sh": true, "shell": true, "yaml": true,
			"yml": true, "json": true, "toml": true, "html": true, "css": true,
			"rust": true, "c": true, "cpp": true, "java": true, "ruby": true,
			"sql": true, "diff": true, "text": true, "markdown": true, "dockerfile": true,
		},
	}
}

func (v *CodeValidator) ID() string { return "code" }

func (v *CodeValidator) Configure(cfg ValidatorConfig) error {
	v.cfg = cfg
	if cfg.Options == nil {
		return nil
	}
	if raw, ok := cfg.Options["known_languages"].([]any); ok {
		for _, l := range raw {
			if s, ok := l.(string); ok {
				v.knownLanguages[strings.ToLower(s)] = true
			}
		}
	}
	return nil
}

func (v *CodeValidator) Validate(ctx context.Context, content []byte, vctx Context) ([]Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var issues []Issue
	lines := bytes.Split(content, []byte("\n"))

	var fenceOpenLine int
	var fenceLang string
	inFence := false

	for i, raw := range lines {
		line := string(raw)
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, fencedLangPattern) {
			if !inFence {
				inFence = true
				fenceOpenLine = i + 1
				fenceLang = strings.TrimSpace(strings.TrimPrefix(trimmed, fencedLangPattern))
				if fenceLang == "" {
					issues = append(issues, Issue{
						Type:       "code.missing_language",
						Severity:   "warning",
						Message:    "fenced code block has no language identifier",
						Location:   Location{Line: fenceOpenLine},
						Confidence: 1.0,
					})
				} else if !v.knownLanguages[strings.ToLower(fenceLang)] {
					issues = append(issues, Issue{
						Type:       "code.unknown_language",
						Severity:   "warning",
						Message:    fmt.Sprintf("fenced code block language %q is not recognized", fenceLang),
						Location:   Location{Line: fenceOpenLine},
						Confidence: 0.7,
					})
				}
				continue
			}
			inFence = false
			continue
		}

		if inFence {
			issues = append(issues, scanLineForCredentials(line, i+1)...)
		} else {
			issues = append(issues, scanInlineCodeForCredentials(line, i+1)...)
		}
	}

	if inFence {
		issues = append(issues, Issue{
			Type:       "code.unclosed_fence",
			Severity:   "critical",
			Message:    fmt.Sprintf("fenced code block opened at line %d is never closed", fenceOpenLine),
			Location:   Location{Line: fenceOpenLine},
			Confidence: 1.0,
		})
	}

	codeLog.Printf("validated %s: %d issues", vctx.FilePath, len(issues))
	return issues, nil
}

// scanInlineCodeForCredentials only scans text inside single-backtick
// inline code spans, outside of fenced blocks.
func scanInlineCodeForCredentials(line string, lineNo int) []Issue {
	var issues []Issue
	segments := strings.Split(line, "`")
	// Odd-indexed segments are inside backticks.
	for i := 1; i < len(segments); i += 2 {
		issues = append(issues, scanLineForCredentials(segments[i], lineNo)...)
	}
	return issues
}

func scanLineForCredentials(text string, lineNo int) []Issue {
	var issues []Issue
	for _, p := range credentialPatterns {
		m, err := p.re.FindStringMatch(text)
		for err == nil && m != nil {
			issues = append(issues, Issue{
				Type:       "code.credential_leak",
				Severity:   "high",
				Message:    fmt.Sprintf("text matches %s credential shape", p.name),
				Location:   Location{Line: lineNo},
				Evidence:   redactEvidence(m.String()),
				Confidence: 0.85,
			})
			m, err = p.re.FindNextMatch(m)
		}
	}
	return issues
}

// redactEvidence keeps the first few characters of a credential match as
// evidence without persisting the full secret value.
func redactEvidence(s string) string {
	if len(s) <= 6 {
		return "[REDACTED]"
	}
	return s[:6] + "...[REDACTED]"
}

var _ Validator = (*CodeValidator)(nil)
