package project

import (
	"net/url"
	"strings"
)

// Slugify derives a project slug from a root URL: lowercased host,
// non-alphanumerics collapsed to a single '-', leading/trailing '-'
// trimmed. Two URLs on the same host always produce the same slug.
func Slugify(rootURL url.URL) string {
	host := strings.ToLower(rootURL.Hostname())

	var b strings.Builder
	lastWasDash := false
	for _, r := range host {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			b.WriteRune(r)
			lastWasDash = false
			continue
		}
		if !lastWasDash && b.Len() > 0 {
			b.WriteRune('-')
			lastWasDash = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "site"
	}
	return slug
}
