package patternscan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sitescope/engine/internal/analyzer"
	"github.com/sitescope/engine/internal/resultstore"
	"github.com/sitescope/engine/internal/snapshot"
)

func init() {
	analyzer.Register(&PatternScanner{})
}

/*
Responsibilities
- Match a caller-supplied set of named regexes against every page's
  markdown projection
- Report one finding per match with enough context to act on it without
  re-opening the page

Deliberately dumb: no scoring, no classification. One regex, one match,
one finding.
*/

const contextWindow = 5

// PatternScanner is the deprecated-pattern/text scanner analyzer.
type PatternScanner struct{}

func (p *PatternScanner) Name() string        { return "pattern-scanner" }
func (p *PatternScanner) Description() string { return "Scans page content for caller-supplied regex patterns" }

func (p *PatternScanner) DeclareConfig() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"patterns"},
		"properties": map[string]interface{}{
			"patterns": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": map[string]interface{}{"type": "string"},
			},
			"case_sensitive": map[string]interface{}{"type": "boolean"},
		},
	}
}

func (p *PatternScanner) Analyze(snap *snapshot.Reader, config map[string]interface{}) (resultstore.TestResult, error) {
	patterns, compileErr := compilePatterns(config)
	if compileErr != nil {
		return resultstore.TestResult{}, compileErr
	}

	pages, err := snap.Pages()
	if err != nil {
		return resultstore.TestResult{}, fmt.Errorf("read snapshot pages: %w", err)
	}

	var findings []resultstore.Finding
	for _, page := range pages {
		body := string(page.ContentMarkdown)
		lines := strings.Split(body, "\n")

		for name, re := range patterns {
			locs := re.FindAllStringIndex(body, -1)
			for _, loc := range locs {
				lineIdx := strings.Count(body[:loc[0]], "\n")
				findings = append(findings, resultstore.Finding{
					URL:      page.URL,
					Category: name,
					Title:    fmt.Sprintf("pattern %q matched", name),
					Evidence: body[loc[0]:loc[1]],
					Payload: map[string]string{
						"line_number": strconv.Itoa(lineIdx + 1),
						"context":     contextLines(lines, lineIdx),
					},
				})
			}
		}
	}

	status := resultstore.StatusPass
	if len(findings) > 0 {
		status = resultstore.StatusFail
	}

	return resultstore.TestResult{
		Status:   status,
		Summary:  fmt.Sprintf("%d pattern match(es) across %d page(s)", len(findings), len(pages)),
		Findings: findings,
	}, nil
}

func compilePatterns(config map[string]interface{}) (map[string]*regexp.Regexp, error) {
	rawPatterns, _ := config["patterns"].(map[string]interface{})
	caseSensitive, _ := config["case_sensitive"].(bool)

	compiled := make(map[string]*regexp.Regexp, len(rawPatterns))
	for name, rawPattern := range rawPatterns {
		patternStr, ok := rawPattern.(string)
		if !ok {
			return nil, fmt.Errorf("pattern %q is not a string", name)
		}
		if !caseSensitive {
			patternStr = "(?i)" + patternStr
		}
		re, err := regexp.Compile(patternStr)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", name, err)
		}
		compiled[name] = re
	}
	return compiled, nil
}

// contextLines returns up to contextWindow lines before and after
// lineIdx (0-based), joined back with newlines.
func contextLines(lines []string, lineIdx int) string {
	start := lineIdx - contextWindow
	if start < 0 {
		start = 0
	}
	end := lineIdx + contextWindow + 1
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n")
}
