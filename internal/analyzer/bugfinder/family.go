package bugfinder

import (
	"fmt"
	"regexp"
	"strings"
)

/*
Pattern family generation. From one seed string, derive a small family of
tolerant regexes rather than matching the seed verbatim: quote style and
field values vary between occurrences of the same structural bug, so a
literal match would miss nearly everything worth finding.

Structural patterns (the seed's shape, values genericized) are weighted
high and alone are enough to confirm a page. Field-presence patterns (one
field's name plus a generic value, or just the field's name) are weighted
low and only add corroborating detail once a structural pattern already
confirmed the page — matching the spec's "precision over recall" stance.
*/

const quoteClass = `["'` + "`‘’“”" + `]`

const maxValueLen = 500

type familyPattern struct {
	Name       string
	Regexp     *regexp.Regexp
	Weight     int
	Structural bool
}

type fieldValue struct {
	Name  string
	Value string
}

var fieldValuePattern = regexp.MustCompile(`["']([A-Za-z_][\w-]*)["']\s*:\s*["']([^"']*)["']`)

func extractFieldValues(seed string) []fieldValue {
	var fields []fieldValue
	for _, m := range fieldValuePattern.FindAllStringSubmatch(seed, -1) {
		fields = append(fields, fieldValue{Name: m[1], Value: m[2]})
	}
	return fields
}

// quoteTolerant rewrites every literal quote character in an
// already-escaped regex source into a class matching any of the seven
// quote variants the source might have used instead.
func quoteTolerant(escaped string) string {
	replacer := strings.NewReplacer(
		`"`, quoteClass,
		`'`, quoteClass,
		"`", quoteClass,
		"‘", quoteClass,
		"’", quoteClass,
		"“", quoteClass,
		"”", quoteClass,
	)
	return replacer.Replace(escaped)
}

// looseWhitespace inserts optional whitespace around every structural
// punctuation character a generated pattern contains, since pretty-printed
// and minified renderings of the same artifact differ mainly in the
// incidental whitespace around brackets, braces, colons, and commas.
func looseWhitespace(pattern string) string {
	replacer := strings.NewReplacer(
		`\[`, `\s*\[\s*`,
		`\]`, `\s*\]\s*`,
		`\{`, `\s*\{\s*`,
		`\}`, `\s*\}\s*`,
		`:`, `\s*:\s*`,
		`,`, `\s*,\s*`,
	)
	return replacer.Replace(pattern)
}

// buildPatternFamily derives a tolerant regex family from a seed substring:
// two full-structure patterns, an opening-structure pattern when the seed
// has a quoted field after some leading text, and two field-presence
// patterns per quoted field. The family size follows the seed's field
// count (7 for a seed with two fields) and is not capped.
func buildPatternFamily(seed string) []familyPattern {
	fields := extractFieldValues(seed)
	escaped := regexp.QuoteMeta(seed)

	strictFull := quoteTolerant(escaped)
	looseFull := looseWhitespace(strictFull)
	wildcard := fmt.Sprintf(`[^"']{0,%d}?`, maxValueLen)
	for _, fv := range fields {
		if fv.Value == "" {
			continue
		}
		strictFull = strings.Replace(strictFull, regexp.QuoteMeta(fv.Value), wildcard, 1)
		looseFull = strings.Replace(looseFull, looseWhitespace(regexp.QuoteMeta(fv.Value)), wildcard, 1)
	}

	family := []familyPattern{
		{Name: "structural-full-loose-whitespace", Regexp: mustCompileLoose(looseFull), Weight: 10, Structural: true},
		{Name: "structural-full-strict", Regexp: mustCompileLoose(strictFull), Weight: 8, Structural: true},
	}

	if len(fields) > 0 {
		openingEnd := strings.Index(seed, fields[0].Name)
		if openingEnd > 0 {
			opening := looseWhitespace(quoteTolerant(regexp.QuoteMeta(seed[:openingEnd]))) + regexp.QuoteMeta(fields[0].Name)
			family = append(family, familyPattern{Name: "structural-opening", Regexp: mustCompileLoose(opening), Weight: 7, Structural: true})
		}
	}

	for _, fv := range fields {
		nameEscaped := regexp.QuoteMeta(fv.Name)
		valuePattern := fmt.Sprintf(`%s\s*:\s*%s[^"']{0,%d}?%s`, nameEscaped, quoteClass, maxValueLen, quoteClass)
		family = append(family, familyPattern{Name: "field-value:" + fv.Name, Regexp: mustCompileLoose(valuePattern), Weight: 3, Structural: false})

		family = append(family, familyPattern{Name: "field-name:" + fv.Name, Regexp: mustCompileLoose(quoteClass + nameEscaped + quoteClass), Weight: 1, Structural: false})
	}

	return family
}

// mustCompileLoose compiles a generated pattern; a malformed pattern
// becomes an always-failing regex rather than a panic, since the pattern
// text is derived from caller-supplied seed text at runtime.
func mustCompileLoose(pattern string) *regexp.Regexp {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return regexp.MustCompile(`$^`)
	}
	return re
}
