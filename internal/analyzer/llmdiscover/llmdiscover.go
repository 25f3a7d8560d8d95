package llmdiscover

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
- Score how readily an LLM-driven crawler/retriever can make sense of a
  page out of context: does it carry its own description, structured
  data, a sane heading hierarchy, and enough substantive text.

Weighted deductions (design decision; spec.md names the checks, not the
weights):
  - missing (empty) meta description: -3 (its length and wording
    are not scored)
  - no JSON-LD structured data:     -2
  - heading hierarchy skips a level: -2
  - fewer than minWordCount words:  -3
*/

const (
	minWordCount = 200
	maxScore     = 10
)

type Audit struct{}

func (a *Audit) Name() string        { return "llm-discoverability" }
func (a *Audit) Description() string { return "Scores pages for LLM/retrieval discoverability" }

func (a *Audit) DeclareConfig() map[string]interface{} {
	return nil
}

func (a *Audit) Analyze(snap *snapshot.Reader, _ map[string]interface{}) (resultstore.TestResult, error) {
	pages, err := snap.Pages()
	if err != nil {
		return resultstore.TestResult{}, fmt.Errorf("read snapshot pages: %w", err)
	}

	var findings []resultstore.Finding
	var totalScore float64

	for _, page := range pages {
		doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(string(page.ContentCleaned)))
		if parseErr != nil {
			continue
		}

		score := float64(maxScore)

		desc, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
		if strings.TrimSpace(desc) == "" {
			findings = append(findings, finding(page.URL, "weak-meta-description", "medium", "No meta description for retrieval context"))
			score -= 3
		}

		if doc.Find(`script[type="application/ld+json"]`).Length() == 0 {
			findings = append(findings, finding(page.URL, "missing-structured-data", "low", "No JSON-LD structured data"))
			score -= 2
		}

		if !headingsAreMonotonic(doc) {
			findings = append(findings, finding(page.URL, "heading-hierarchy", "medium", "Heading levels skip a level"))
			score -= 2
		}

		wordCount := len(strings.Fields(doc.Text()))
		if wordCount < minWordCount {
			findings = append(findings, finding(page.URL, "thin-content", "high", fmt.Sprintf("Only %d words of substantive content", wordCount)))
			score -= 3
		}

		totalScore += clampScore(score)
	}

	avgScore := float64(0)
	if len(pages) > 0 {
		avgScore = totalScore / float64(len(pages))
	}

	status := resultstore.StatusPass
	if len(findings) > 0 {
		status = resultstore.StatusWarning
	}
	if avgScore < 5 {
		status = resultstore.StatusFail
	}

	return resultstore.TestResult{
		Status:   status,
		Summary:  fmt.Sprintf("LLM-discoverability score %.1f/%d across %d page(s)", avgScore, maxScore, len(pages)),
		Findings: findings,
	}, nil
}

func finding(url, category, severity, description string) resultstore.Finding {
	return resultstore.Finding{URL: url, Category: category, Severity: severity, Description: description}
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
