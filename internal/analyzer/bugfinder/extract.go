package bugfinder

import (
	"errors"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

/*
Auto-extraction strategies, tried in order and stopped at first success.
Each is a plausible shape for a rendering-bug artifact leaking into
visible text: unresolved template syntax, a stray JSON blob, HTML that
was percent-encoded instead of decoded, or a token too long to be
ordinary prose.
*/

var (
	bracketConstructPattern = regexp.MustCompile(`(?s)(\[\[.{1,500}?\]\]|\{\{.{1,500}?\}\})`)
	jsonLikePattern         = regexp.MustCompile(`(?s)\{"[^{}]{5,500}?\}`)
	percentEncodedPattern   = regexp.MustCompile(`(?:%[0-9A-Fa-f]{2}){3,}`)
	longUnbrokenTokenPattern = regexp.MustCompile(`\S{41,}`)
)

var errNoSeedPattern = errors.New("no seed pattern could be auto-extracted from the seed page; supply bug_text explicitly")

// autoExtractSeed tries each strategy over the seed page's visible text and
// returns the first match along with the strategy name that produced it.
func autoExtractSeed(doc *goquery.Document) (string, string, error) {
	bodyText := doc.Text()

	if m := bracketConstructPattern.FindString(bodyText); m != "" {
		return m, "bracket-construct", nil
	}
	if m := jsonLikePattern.FindString(bodyText); m != "" {
		return m, "json-substring", nil
	}
	if m := percentEncodedPattern.FindString(bodyText); m != "" {
		return m, "percent-encoded", nil
	}

	var blockText strings.Builder
	doc.Find("p,div").Each(func(_ int, s *goquery.Selection) {
		blockText.WriteString(s.Text())
		blockText.WriteString(" ")
	})
	if m := longUnbrokenTokenPattern.FindString(blockText.String()); m != "" {
		return m, "long-token", nil
	}

	return "", "", errNoSeedPattern
}
