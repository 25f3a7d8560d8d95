package seo

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sitescope/engine/internal/analyzer"
	"github.com/sitescope/engine/internal/resultstore"
	"github.com/sitescope/engine/internal/snapshot"
)

func init() {
	analyzer.Register(&Audit{})
}

/*
Responsibilities
- Score one snapshot 0-10 on classic on-page SEO hygiene
- Emit per-page findings for title/meta-description/heading/alt problems
- Emit site-level findings for duplicate titles/descriptions and the
  absence of a crawled robots.txt/sitemap reference

Each deduction below is a design decision, not a spec-mandated weight:
spec.md leaves the exact point values open and only names the checks.
*/

const (
	titleMinLen = 30
	titleMaxLen = 60
	descMinLen  = 50
	descMaxLen  = 160
	maxScore    = 10
)

type Audit struct{}

func (a *Audit) Name() string        { return "seo-audit" }
func (a *Audit) Description() string { return "On-page SEO hygiene audit" }

func (a *Audit) DeclareConfig() map[string]interface{} {
	return nil
}

func (a *Audit) Analyze(snap *snapshot.Reader, _ map[string]interface{}) (resultstore.TestResult, error) {
	pages, err := snap.Pages()
	if err != nil {
		return resultstore.TestResult{}, fmt.Errorf("read snapshot pages: %w", err)
	}

	var findings []resultstore.Finding
	score := float64(maxScore)

	titlesSeen := map[string][]string{}
	descriptionsSeen := map[string][]string{}
	sawRobots, sawSitemap := false, false

	for _, page := range pages {
		if strings.HasSuffix(page.URL, "/robots.txt") {
			sawRobots = true
		}
		if strings.Contains(page.URL, "sitemap") {
			sawSitemap = true
		}

		doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(string(page.ContentCleaned)))
		if parseErr != nil {
			continue
		}

		title := strings.TrimSpace(doc.Find("title").First().Text())
		if title == "" {
			findings = append(findings, pageFinding(page.URL, "missing-title", "high", "Page has no <title>"))
			score -= 2
		} else {
			titlesSeen[title] = append(titlesSeen[title], page.URL)
			if len(title) < titleMinLen || len(title) > titleMaxLen {
				findings = append(findings, pageFinding(page.URL, "title-length", "medium", fmt.Sprintf("Title length %d outside 30-60", len(title))))
				score -= 1
			}
		}

		desc, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
		desc = strings.TrimSpace(desc)
		if desc == "" {
			findings = append(findings, pageFinding(page.URL, "missing-meta-description", "high", "Page has no meta description"))
			score -= 2
		} else {
			descriptionsSeen[desc] = append(descriptionsSeen[desc], page.URL)
			if len(desc) < descMinLen || len(desc) > descMaxLen {
				findings = append(findings, pageFinding(page.URL, "meta-description-length", "medium", fmt.Sprintf("Description length %d outside 50-160", len(desc))))
				score -= 1
			}
		}

		h1Count := doc.Find("h1").Length()
		switch {
		case h1Count == 0:
			findings = append(findings, pageFinding(page.URL, "missing-h1", "high", "Page has no H1"))
			score -= 2
		case h1Count > 1:
			findings = append(findings, pageFinding(page.URL, "multiple-h1", "medium", fmt.Sprintf("Page has %d H1 elements", h1Count)))
			score -= 1
		}

		if !headingsAreMonotonic(doc) {
			findings = append(findings, pageFinding(page.URL, "heading-hierarchy", "medium", "Heading levels skip a level"))
			score -= 1
		}

		missingAlt := doc.Find("img").FilterFunction(func(_ int, s *goquery.Selection) bool {
			alt, exists := s.Attr("alt")
			return !exists || strings.TrimSpace(alt) == ""
		}).Length()
		if missingAlt > 0 {
			findings = append(findings, pageFinding(page.URL, "missing-image-alt", "low", fmt.Sprintf("%d image(s) missing alt text", missingAlt)))
			score -= 0.5
		}
	}

	for title, urls := range titlesSeen {
		if len(urls) > 1 {
			findings = append(findings, siteFinding("duplicate-title", "medium", fmt.Sprintf("Title %q reused across %d pages", title, len(urls))))
			score -= 1
		}
	}
	for desc, urls := range descriptionsSeen {
		if len(urls) > 1 {
			findings = append(findings, siteFinding("duplicate-meta-description", "medium", fmt.Sprintf("Description %q reused across %d pages", desc, len(urls))))
			score -= 1
		}
	}
	if !sawRobots {
		findings = append(findings, siteFinding("missing-robots-txt", "low", "No robots.txt was crawled"))
		score -= 0.5
	}
	if !sawSitemap {
		findings = append(findings, siteFinding("missing-sitemap-reference", "low", "No sitemap reference was crawled"))
		score -= 0.5
	}

	score = clampScore(score)

	status := resultstore.StatusPass
	if len(findings) > 0 {
		status = resultstore.StatusWarning
	}
	if score < 5 {
		status = resultstore.StatusFail
	}

	return resultstore.TestResult{
		Status:   status,
		Summary:  fmt.Sprintf("SEO score %.1f/%d across %d page(s)", score, maxScore, len(pages)),
		Findings: findings,
	}, nil
}

func pageFinding(url, category, severity, description string) resultstore.Finding {
	return resultstore.Finding{URL: url, Category: category, Severity: severity, Description: description}
}

func siteFinding(category, severity, description string) resultstore.Finding {
	return resultstore.Finding{Category: category, Severity: severity, Description: description, SiteWide: true}
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

// headingsAreMonotonic returns false if any heading level jumps more
// than one step deeper than its predecessor (e.g. h2 directly to h4).
func headingsAreMonotonic(doc *goquery.Document) bool {
	var levels []int
	doc.Find("h1,h2,h3,h4,h5,h6").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		if node == nil || len(node.Data) != 2 {
			return
		}
		levels = append(levels, int(node.Data[1]-'0'))
	})

	for i := 1; i < len(levels); i++ {
		if levels[i] > levels[i-1]+1 {
			return false
		}
	}
	return true
}
