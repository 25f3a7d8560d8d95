package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
	"github.com/sitescope/engine/internal/assets"
	"github.com/sitescope/engine/internal/metadata"
	"github.com/sitescope/engine/pkg/failure"
	"github.com/sitescope/engine/pkg/hashutil"
	"github.com/sitescope/engine/pkg/urlutil"
)

/*
Responsibilities
- Inject frontmatter
- Enforce structural rules
- Prepare documents for RAG chunking

Frontmatter Fields
- Title
- Source URL
- Crawl depth
- Section or category
- etc

RAG-Oriented Constraints
- Logical section boundaries preserved
- Code blocks and tables are atomic
- Chunk sizes predictable
*/

type Constraint interface {
	Normalize(
		fetchUrl url.URL,
		assetfulMarkdownDoc assets.AssetfulMarkdownDoc,
		normalizeParam NormalizeParam,
	) (NormalizedMarkdownDoc, failure.ClassifiedError)
}

type MarkdownConstraint struct {
	metadataSink metadata.MetadataSink
}

func NewMarkdownConstraint(
	metadataSink metadata.MetadataSink,
) MarkdownConstraint {
	return MarkdownConstraint{
		metadataSink: metadataSink,
	}
}

func (m *MarkdownConstraint) Normalize(
	fetchUrl url.URL,
	assetfulMarkdownDoc assets.AssetfulMarkdownDoc,
	normalizeParam NormalizeParam,
) (NormalizedMarkdownDoc, failure.ClassifiedError) {
	normalizedMarkdown, err := normalize(fetchUrl, assetfulMarkdownDoc, normalizeParam)
	if err != nil {
		var normalizationError *NormalizationError
		errors.As(err, &normalizationError)
		m.metadataSink.RecordError(
			time.Now(),
			"normalize",
			"MarkdownConstraint.Normalize",
			mapNormalizationErrorToMetadataCause(*normalizationError),
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
		return NormalizedMarkdownDoc{}, normalizationError
	}
	return normalizedMarkdown, nil
}

func normalize(
	fetchUrl url.URL,
	inputDoc assets.AssetfulMarkdownDoc,
	normalizeParam NormalizeParam,
) (NormalizedMarkdownDoc, failure.ClassifiedError) {
	content := inputDoc.Content()

	// Step 1: Check the document is worth keeping at all. Arbitrary crawled
	// sites rarely hold to the single-H1, no-orphan-content shape a curated
	// docs corpus would: headings may repeat, skip levels, or be entirely
	// absent. Only a genuinely empty document is rejected; everything else
	// is described via scan, not enforced via rejection.
	if len(bytes.TrimSpace(content)) == 0 {
		return NormalizedMarkdownDoc{}, &NormalizationError{
			Message:   "markdown content is empty",
			Retryable: false,
			Cause:     ErrCauseEmptyContent,
		}
	}
	structure := scanStructure(content)

	// Step 2: Generate frontmatter from whatever structure is present.
	frontmatter, err := generateFrontmatter(fetchUrl, inputDoc, normalizeParam, structure)
	if err != nil {
		return NormalizedMarkdownDoc{}, err
	}

	// Return normalized document with both frontmatter and content
	return NewNormalizedMarkdownDoc(frontmatter, content), nil
}

// headingStructure is what scanStructure learns about a document's heading
// outline. It drives title derivation and is surfaced, not enforced: a page
// with zero H1s or out-of-order levels is still normalized, just flagged.
type headingStructure struct {
	headings             []*ast.Heading
	skippedHeadingLevels bool
	contentBeforeFirstH1 bool
}

// scanStructure walks the markdown AST once and records the heading outline.
// It never fails; arbitrary crawled pages rarely match a curated doc site's
// single-H1 shape, so deviations are recorded as structure facts for the
// frontmatter/metadata layer rather than rejected outright.
func scanStructure(content []byte) headingStructure {
	p := parser.New()
	doc := markdown.Parse(content, p)

	var result headingStructure
	var insideCodeBlock bool
	var seenAnyHeading bool

	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		switch n := node.(type) {
		case *ast.Heading:
			if entering {
				if insideCodeBlock {
					// A "#" inside a fenced block is prose, not a heading.
					return ast.GoToNext
				}
				result.headings = append(result.headings, n)
				seenAnyHeading = true
			}

		case *ast.CodeBlock:
			if entering {
				insideCodeBlock = true
			} else {
				insideCodeBlock = false
			}

		case *ast.Text, *ast.Paragraph, *ast.List, *ast.Table:
			if entering && !seenAnyHeading {
				result.contentBeforeFirstH1 = true
			}
		}

		return ast.GoToNext
	})

	prevLevel := 0
	for _, h := range result.headings {
		if h.Level > prevLevel+1 && prevLevel != 0 {
			result.skippedHeadingLevels = true
		}
		prevLevel = h.Level
	}

	return result
}

func generateFrontmatter(
	fetchUrl url.URL,
	inputDoc assets.AssetfulMarkdownDoc,
	normalizeParam NormalizeParam,
	structure headingStructure,
) (Frontmatter, failure.ClassifiedError) {
	content := inputDoc.Content()

	// Extract title from the best heading available; falls back to the URL
	// path when the page carries no heading at all.
	title := extractTitle(content, structure, fetchUrl)

	// Get source URL
	sourceURL := fetchUrl.String()

	// Compute canonical URL
	canonicalURL := urlutil.Canonicalize(fetchUrl)

	// Derive section from canonical URL path (stripping allowedPathPrefixes first)
	section := deriveSection(canonicalURL, normalizeParam.allowedPathPrefixes)

	// Compute docID (hash of canonical URL)
	canonicalURLStr := canonicalURL.String()
	docIDHash, hashErr := hashutil.HashBytes([]byte(canonicalURLStr), normalizeParam.hashAlgo)
	if hashErr != nil {
		return Frontmatter{}, &NormalizationError{
			Message:   fmt.Sprintf("failed to compute doc_id: %v", hashErr),
			Retryable: false,
			Cause:     ErrCauseHashComputationFailed,
		}
	}
	docID := string(normalizeParam.hashAlgo) + ":" + docIDHash

	// Compute contentHash (hash of markdown content)
	contentHashValue, hashErr := hashutil.HashBytes(content, normalizeParam.hashAlgo)
	if hashErr != nil {
		return Frontmatter{}, &NormalizationError{
			Message:   fmt.Sprintf("failed to compute content_hash: %v", hashErr),
			Retryable: false,
			Cause:     ErrCauseHashComputationFailed,
		}
	}
	contentHash := string(normalizeParam.hashAlgo) + ":" + contentHashValue

	// Gather remaining fields from normalizeParam
	fetchedAt := normalizeParam.fetchedAt
	crawlerVersion := normalizeParam.appVersion
	crawlDepth := normalizeParam.crawlDepth

	// Construct immutable Frontmatter
	return NewFrontmatter(
		title,
		sourceURL,
		canonicalURLStr,
		crawlDepth,
		section,
		docID,
		contentHash,
		fetchedAt,
		crawlerVersion,
	), nil
}

// rootSection names the section of a page at the site root or otherwise
// without a usable path segment, so frontmatter generation never fails over
// something as common as a crawled home page.
const rootSection = "root"

// deriveSection extracts the first meaningful path segment from the URL,
// after stripping any matching allowedPathPrefix. Paths that carry no
// segment of their own (the root page, a bare prefix) fall back to
// rootSection rather than failing the whole page.
func deriveSection(canonicalURL url.URL, allowedPathPrefixes []string) string {
	path := canonicalURL.Path
	if path == "" || path == "/" {
		return rootSection
	}

	for _, prefix := range allowedPathPrefixes {
		if prefix == "" {
			continue
		}
		if !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		if strings.HasPrefix(path, prefix) {
			path = strings.TrimPrefix(path, prefix)
			break
		}
	}

	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return rootSection
	}

	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			return segment
		}
	}

	return rootSection
}

// extractTitle picks the best available title: the first H1 line if the
// page has one (the common case on curated docs sites), otherwise the
// topmost heading of any level, otherwise the URL path as a last resort.
// Arbitrary crawled pages are not guaranteed an H1, so this never fails.
func extractTitle(content []byte, structure headingStructure, fetchUrl url.URL) string {
	lines := bytes.Split(content, []byte("\n"))

	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if bytes.HasPrefix(line, []byte("# ")) {
			if title := cleanHeadingText(string(line[2:])); title != "" {
				return title
			}
		}
	}

	if len(structure.headings) > 0 {
		for _, line := range lines {
			line = bytes.TrimSpace(line)
			trimmed := bytes.TrimLeft(line, "#")
			level := len(line) - len(trimmed)
			if level >= 1 && level <= 6 && bytes.HasPrefix(trimmed, []byte(" ")) {
				if title := cleanHeadingText(string(bytes.TrimSpace(trimmed))); title != "" {
					return title
				}
			}
		}
	}

	if path := strings.Trim(fetchUrl.Path, "/"); path != "" {
		return path
	}
	return fetchUrl.Host
}

func cleanHeadingText(raw string) string {
	return strings.TrimSpace(stripInlineMarkdown(raw))
}

// stripInlineMarkdown removes common inline markdown formatting from text.
func stripInlineMarkdown(text string) string {
	// Remove backticks (inline code)
	text = strings.ReplaceAll(text, "`", "")

	// Remove bold markers
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "__", "")

	// Remove italic markers
	text = strings.ReplaceAll(text, "*", "")
	text = strings.ReplaceAll(text, "_", "")

	// Remove link text markers but keep the text
	// This is a simplified approach - removes [ and ] characters
	text = strings.ReplaceAll(text, "[", "")
	text = strings.ReplaceAll(text, "]", "")

	return text
}
