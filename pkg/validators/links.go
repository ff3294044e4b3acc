package validators

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tbcv/engine/pkg/httputil"
	"github.com/tbcv/engine/pkg/logger"
)

var linksLog = logger.New("validators:links")

var markdownLinkPattern = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)(?:\s+"[^"]*")?\)`)

// LinksValidator checks markdown link targets: malformed URLs,
// unreachable-after-retries external links, non-HTTPS links where an
// HTTPS equivalent is known to exist, and dangling in-document anchors,
// per spec.md §4.5.
type LinksValidator struct {
	cfg          ValidatorConfig
	client       *httputil.Client
	concurrency  int64
	maxRetries   int
	httpsAliases map[string]string // known http -> https equivalents
}

func NewLinksValidator() *LinksValidator {
	return &LinksValidator{
		client:      httputil.NewClient(&httputil.ClientOptions{Timeout: 10 * time.Second, UserAgent: "tbcv-links-validator"}),
		concurrency: 4,
		maxRetries:  2,
		httpsAliases: map[string]string{
			"http://github.com": "https://github.com",
			"http://golang.org": "https://golang.org",
			"http://pkg.go.dev": "https://pkg.go.dev",
		},
	}
}

func (v *LinksValidator) ID() string { return "links" }

func (v *LinksValidator) Configure(cfg ValidatorConfig) error {
	v.cfg = cfg
	if cfg.Options == nil {
		return nil
	}
	if n, ok := cfg.Options["concurrency"].(float64); ok && n > 0 {
		v.concurrency = int64(n)
	}
	if n, ok := cfg.Options["max_retries"].(float64); ok && n >= 0 {
		v.maxRetries = int(n)
	}
	return nil
}

type linkOccurrence struct {
	target string
	line   int
}

func (v *LinksValidator) Validate(ctx context.Context, content []byte, vctx Context) ([]Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var issues []Issue
	var occurrences []linkOccurrence
	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		for _, m := range markdownLinkPattern.FindAllStringSubmatch(line, -1) {
			occurrences = append(occurrences, linkOccurrence{target: m[1], line: i + 1})
		}
	}

	timeout := vctx.Timeouts.LinkCheck
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(v.concurrency)

	for _, occ := range occurrences {
		occ := occ
		target := occ.target

		if strings.HasPrefix(target, "#") {
			if vctx.Headings != nil && !vctx.Headings.Has(strings.TrimPrefix(target, "#")) {
				mu.Lock()
				issues = append(issues, Issue{
					Type:       "links.dangling_anchor",
					Severity:   "warning",
					Message:    fmt.Sprintf("anchor %q does not match any heading in this document", target),
					Location:   Location{Line: occ.line},
					Confidence: 0.9,
				})
				mu.Unlock()
			}
			continue
		}

		parsed, err := url.Parse(target)
		if err != nil || (parsed.Scheme != "" && parsed.Host == "" && !strings.HasPrefix(target, "/")) {
			issues = append(issues, Issue{
				Type:       "links.malformed_url",
				Severity:   "critical",
				Message:    fmt.Sprintf("malformed link target %q", target),
				Location:   Location{Line: occ.line},
				Confidence: 1.0,
			})
			continue
		}

		if parsed.Scheme == "http" {
			for httpPrefix, httpsPrefix := range v.httpsAliases {
				if strings.HasPrefix(target, httpPrefix) {
					issues = append(issues, Issue{
						Type:       "links.non_https",
						Severity:   "medium",
						Message:    fmt.Sprintf("link %q uses http where https is available", target),
						Location:   Location{Line: occ.line},
						Confidence: 0.9,
						Suggestion: httpsPrefix + strings.TrimPrefix(target, httpPrefix),
					})
					break
				}
			}
		}

		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			reachable := v.checkReachable(ctx, target, timeout)
			if !reachable {
				mu.Lock()
				issues = append(issues, Issue{
					Type:       "links.unreachable",
					Severity:   "critical",
					Message:    fmt.Sprintf("link %q was unreachable after %d attempts", target, v.maxRetries+1),
					Location:   Location{Line: occ.line},
					Confidence: 0.8,
				})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	linksLog.Printf("validated %s: checked %d links, %d issues", vctx.FilePath, len(occurrences), len(issues))
	return issues, ctx.Err()
}

func (v *LinksValidator) checkReachable(ctx context.Context, target string, timeout time.Duration) bool {
	for attempt := 0; attempt <= v.maxRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		req, err := v.client.NewRequest("HEAD", target)
		if err != nil {
			cancel()
			return false
		}
		resp, err := v.client.Do(req.WithContext(reqCtx))
		cancel()
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 400 {
				return true
			}
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}

var _ Validator = (*LinksValidator)(nil)
