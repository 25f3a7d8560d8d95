package bugfinder

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sitescope/engine/internal/analyzer"
	"github.com/sitescope/engine/internal/resultstore"
	"github.com/sitescope/engine/internal/snapshot"
)

func init() {
	analyzer.Register(&Finder{})
}

/*
Responsibilities
- Locate a seed page and either take its operator-supplied bug_text or
  auto-extract a representative fragment from it
- Derive a tolerant regex family from that fragment (family.go)
- Search every page in the snapshot for structural matches, preferring
  precision: a page is only reported once a structural pattern confirms
  it, with field-presence matches recorded as corroborating detail

Unlike the other built-in analyzers this one is intentionally
regex-driven end to end; tolerant textual search is the point, not an
HTML-structure check.
*/

const contextWindow = 5

type Finder struct{}

func (f *Finder) Name() string        { return "example-bug-finder" }
func (f *Finder) Description() string { return "Finds pages structurally similar to a seed rendering bug" }

func (f *Finder) DeclareConfig() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"seed_url"},
		"properties": map[string]interface{}{
			"seed_url": map[string]interface{}{"type": "string"},
			"bug_text": map[string]interface{}{"type": "string"},
		},
	}
}

func (f *Finder) Analyze(snap *snapshot.Reader, config map[string]interface{}) (resultstore.TestResult, error) {
	seedURL, _ := config["seed_url"].(string)
	if seedURL == "" {
		return errorResult("seed_url is required"), nil
	}
	bugText, _ := config["bug_text"].(string)

	pages, err := snap.Pages()
	if err != nil {
		return resultstore.TestResult{}, fmt.Errorf("read snapshot pages: %w", err)
	}

	var seedPage *snapshot.Page
	for i := range pages {
		if pages[i].URL == seedURL {
			seedPage = &pages[i]
			break
		}
	}
	if seedPage == nil {
		return errorResult(fmt.Sprintf("seed_url %q is not in this snapshot", seedURL)), nil
	}

	extractionStrategy := "operator-supplied"
	if bugText == "" {
		seedDoc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(string(seedPage.ContentCleaned)))
		if parseErr != nil {
			return errorResult(fmt.Sprintf("could not parse seed page: %v", parseErr)), nil
		}
		bugText, extractionStrategy, err = autoExtractSeed(seedDoc)
		if err != nil {
			return errorResult(err.Error()), nil
		}
	}

	family := buildPatternFamily(bugText)

	var findings []resultstore.Finding
	for _, page := range pages {
		text := string(page.ContentMarkdown)
		if text == "" {
			text = string(page.ContentCleaned)
		}

		confirmed := false
		counts := map[string]int{}
		var firstMatchLoc []int
		for _, p := range family {
			locs := p.Regexp.FindAllStringIndex(text, -1)
			if len(locs) == 0 {
				continue
			}
			counts[p.Name] = len(locs)
			if p.Structural {
				confirmed = true
				if firstMatchLoc == nil {
					firstMatchLoc = locs[0]
				}
			}
		}
		if !confirmed {
			continue
		}

		payload := map[string]string{
			"extraction_strategy": extractionStrategy,
		}
		for name, n := range counts {
			payload["matches:"+name] = fmt.Sprintf("%d", n)
		}
		if firstMatchLoc != nil {
			payload["context"] = contextAround(text, firstMatchLoc[0], firstMatchLoc[1])
		}

		findings = append(findings, resultstore.Finding{
			URL:         page.URL,
			Category:    "structural-bug-match",
			Severity:    "medium",
			Description: "Page content structurally matches the seed bug pattern",
			Payload:     payload,
		})
	}

	status := resultstore.StatusPass
	if len(findings) > 0 {
		status = resultstore.StatusWarning
	}

	return resultstore.TestResult{
		Status:   status,
		Summary:  fmt.Sprintf("%d page(s) structurally match the seed bug from %s (via %s)", len(findings), seedURL, extractionStrategy),
		Findings: findings,
	}, nil
}

func errorResult(reason string) resultstore.TestResult {
	return resultstore.TestResult{Status: resultstore.StatusError, Summary: reason}
}

func contextAround(text string, start, _ int) string {
	lines := strings.Split(text, "\n")
	matchLine := strings.Count(text[:start], "\n")
	from := matchLine - contextWindow
	if from < 0 {
		from = 0
	}
	to := matchLine + contextWindow + 1
	if to > len(lines) {
		to = len(lines)
	}
	return strings.Join(lines[from:to], "\n")
}
