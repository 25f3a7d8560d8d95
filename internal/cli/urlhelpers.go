package cmd

import (
	"fmt"
	"net/url"
)

// parseSeedURL parses a project's stored root URL into the single-element
// seed list config.WithDefault expects.
func parseSeedURL(rootURL string) ([]url.URL, error) {
	parsed, err := url.Parse(rootURL)
	if err != nil {
		return nil, fmt.Errorf("invalid project root URL %q: %w", rootURL, err)
	}
	return []url.URL{*parsed}, nil
}
