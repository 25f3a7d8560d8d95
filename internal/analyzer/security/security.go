package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sitescope/engine/internal/analyzer"
	"github.com/sitescope/engine/internal/resultstore"
	"github.com/sitescope/engine/internal/snapshot"
)

func init() {
	analyzer.Register(&Audit{})
}

/*
Responsibilities
- Flag transport and header hygiene problems on each crawled page
- Flag session-like cookies missing HttpOnly/SameSite, and any cookie set
  without Secure on an HTTPS page
- Flag exposed sensitive paths discovered by the crawl itself
- Flag information disclosure left behind in HTML comments

Grounded on the header/cookie parsing idiom of a network-capture based
security scanner: headers are checked by presence rather than value, and
cookies are parsed attribute-by-attribute off the raw Set-Cookie line.
*/

var requiredSecurityHeaders = []struct {
	Name     string
	Severity string
}{
	{"Strict-Transport-Security", "high"},
	{"Content-Security-Policy", "medium"},
	{"X-Frame-Options", "medium"},
	{"X-Content-Type-Options", "medium"},
}

var sessionCookiePattern = regexp.MustCompile(`(?i)(session|token|auth|jwt|sid)`)

var exposedPaths = []string{"/.git", "/.env", "/admin"}

var commentDisclosurePattern = regexp.MustCompile(`(?i)(password|secret|api[_-]?key|todo|fixme|debug|internal only)`)
var htmlCommentPattern = regexp.MustCompile(`(?s)<!--(.*?)-->`)

var mixedContentSrcPattern = regexp.MustCompile(`(?i)(?:src|href)\s*=\s*["']http://[^"']+["']`)

type Audit struct{}

func (a *Audit) Name() string        { return "security-audit" }
func (a *Audit) Description() string { return "Transport, header, cookie, and disclosure audit" }

func (a *Audit) DeclareConfig() map[string]interface{} {
	return nil
}

func (a *Audit) Analyze(snap *snapshot.Reader, _ map[string]interface{}) (resultstore.TestResult, error) {
	pages, err := snap.Pages()
	if err != nil {
		return resultstore.TestResult{}, fmt.Errorf("read snapshot pages: %w", err)
	}

	var findings []resultstore.Finding
	for _, page := range pages {
		isHTTPS := strings.HasPrefix(page.URL, "https://")

		if !isHTTPS && strings.HasPrefix(page.URL, "http://") {
			findings = append(findings, pageFinding(page.URL, "insecure-transport", "high",
				"Page served over plain HTTP", "Serve all pages over HTTPS and redirect HTTP to HTTPS."))
		}

		findings = append(findings, checkHeaders(page.URL, page.ResponseHeaders, isHTTPS)...)
		findings = append(findings, checkCookies(page.URL, page.ResponseHeaders, isHTTPS)...)

		if isHTTPS && mixedContentSrcPattern.Match(page.ContentRaw) {
			findings = append(findings, pageFinding(page.URL, "mixed-content", "medium",
				"HTTPS page references an http:// resource", "Rewrite the resource URL to https://."))
		}

		findings = append(findings, checkCommentDisclosure(page.URL, page.ContentRaw)...)
	}

	findings = append(findings, checkExposedPaths(pages)...)

	status := resultstore.StatusPass
	if len(findings) > 0 {
		status = resultstore.StatusWarning
	}
	for _, f := range findings {
		if f.Severity == "high" {
			status = resultstore.StatusFail
			break
		}
	}

	return resultstore.TestResult{
		Status:   status,
		Summary:  fmt.Sprintf("%d security finding(s) across %d page(s)", len(findings), len(pages)),
		Findings: findings,
	}, nil
}

func checkHeaders(url string, headers map[string]string, isHTTPS bool) []resultstore.Finding {
	var findings []resultstore.Finding
	for _, h := range requiredSecurityHeaders {
		if h.Name == "Strict-Transport-Security" && !isHTTPS {
			continue
		}
		if headers == nil || strings.TrimSpace(headers[h.Name]) == "" {
			f := pageFinding(url, "missing-header:"+h.Name, h.Severity,
				fmt.Sprintf("Response is missing the %s header", h.Name),
				fmt.Sprintf("Add the %s header to responses from this origin.", h.Name))
			f.SiteWide = true
			findings = append(findings, f)
		}
	}
	return findings
}

func checkCookies(url string, headers map[string]string, isHTTPS bool) []resultstore.Finding {
	if headers == nil {
		return nil
	}
	raw := headers["Set-Cookie"]
	if raw == "" {
		return nil
	}

	var findings []resultstore.Finding
	for _, cookie := range parseCookies(raw) {
		sensitive := sessionCookiePattern.MatchString(cookie.Name)

		if sensitive && !cookie.HttpOnly {
			findings = append(findings, pageFinding(url, "cookie-missing-httponly", "medium",
				fmt.Sprintf("Cookie %q looks session-like but lacks HttpOnly", cookie.Name),
				"Add the HttpOnly flag so the cookie is inaccessible to JavaScript."))
		}
		if isHTTPS && !cookie.Secure {
			findings = append(findings, pageFinding(url, "cookie-missing-secure", "medium",
				fmt.Sprintf("Cookie %q lacks Secure on an HTTPS page", cookie.Name),
				"Add the Secure flag so the cookie is only sent over HTTPS."))
		}
		if sensitive && cookie.SameSite == "" {
			findings = append(findings, pageFinding(url, "cookie-missing-samesite", "low",
				fmt.Sprintf("Cookie %q looks session-like but lacks SameSite", cookie.Name),
				"Add SameSite=Lax or SameSite=Strict to reduce CSRF exposure."))
		}
	}
	return findings
}

func checkCommentDisclosure(url string, raw []byte) []resultstore.Finding {
	var findings []resultstore.Finding
	for _, match := range htmlCommentPattern.FindAllSubmatch(raw, -1) {
		body := string(match[1])
		if commentDisclosurePattern.MatchString(body) {
			findings = append(findings, pageFinding(url, "comment-disclosure", "low",
				"HTML comment may disclose internal information",
				"Remove the comment before publishing, or move the information out of markup."))
		}
	}
	return findings
}

func checkExposedPaths(pages []snapshot.Page) []resultstore.Finding {
	var findings []resultstore.Finding
	for _, page := range pages {
		if page.HTTPStatus < 200 || page.HTTPStatus >= 300 {
			continue
		}
		for _, suspect := range exposedPaths {
			if strings.Contains(page.URL, suspect) {
				findings = append(findings, siteFinding("exposed-path:"+suspect, "high",
					fmt.Sprintf("Crawl reached %s, which should not be publicly served", page.URL),
					"Block this path at the server or proxy layer."))
			}
		}
	}
	return findings
}

func pageFinding(url, category, severity, description, remediation string) resultstore.Finding {
	return resultstore.Finding{URL: url, Category: category, Severity: severity, Description: description, Remediation: remediation}
}

func siteFinding(category, severity, description, remediation string) resultstore.Finding {
	return resultstore.Finding{Category: category, Severity: severity, Description: description, Remediation: remediation, SiteWide: true}
}

type cookieAttrs struct {
	Name     string
	HttpOnly bool
	Secure   bool
	SameSite string
}

func parseCookies(setCookieHeader string) []cookieAttrs {
	var cookies []cookieAttrs
	for _, line := range strings.Split(setCookieHeader, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cookies = append(cookies, parseSingleCookie(line))
	}
	return cookies
}

func parseSingleCookie(raw string) cookieAttrs {
	parts := strings.Split(raw, ";")
	cookie := cookieAttrs{}

	if len(parts) > 0 {
		nameValue := strings.TrimSpace(parts[0])
		if eqIdx := strings.Index(nameValue, "="); eqIdx > 0 {
			cookie.Name = nameValue[:eqIdx]
		}
	}

	for _, part := range parts[1:] {
		attr := strings.TrimSpace(strings.ToLower(part))
		switch {
		case attr == "httponly":
			cookie.HttpOnly = true
		case attr == "secure":
			cookie.Secure = true
		case strings.HasPrefix(attr, "samesite="):
			cookie.SameSite = strings.TrimPrefix(attr, "samesite=")
		case attr == "samesite":
			cookie.SameSite = "unspecified"
		}
	}

	return cookie
}
