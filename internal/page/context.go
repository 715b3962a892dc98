// Package page models the browsing environment an analytics event occurred
// in: current URL, referrer, user agent, and viewport. The engine treats a
// Context as an injected value so nothing in the core reads globals.
package page

import (
	"net/url"
	"strings"
)

// Context is a snapshot of the page environment for one beacon.
type Context struct {
	URL            string
	Referrer       string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
}

// Location parses the page URL. Returns nil when absent or unparseable.
func (c Context) Location() *url.URL {
	if c.URL == "" {
		return nil
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil
	}
	return u
}

// Path returns the URL path, or "" when the URL is absent.
func (c Context) Path() string {
	if u := c.Location(); u != nil {
		return u.Path
	}
	return ""
}

// Query returns the parsed query parameters, never nil.
func (c Context) Query() url.Values {
	if u := c.Location(); u != nil {
		return u.Query()
	}
	return url.Values{}
}

// ReferrerDomain returns the referrer's hostname, or "" for no referrer.
func (c Context) ReferrerDomain() string {
	if c.Referrer == "" {
		return ""
	}
	u, err := url.Parse(c.Referrer)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// pageTypeRule maps a path prefix to a page classification. First match wins,
// so more specific prefixes come first.
type pageTypeRule struct {
	prefix   string
	pageType string
}

var pageTypeRules = []pageTypeRule{
	{"/programs/", "program_detail"},
	{"/programs", "program_index"},
	{"/admissions", "admissions"},
	{"/tuition", "tuition"},
	{"/financial-aid", "tuition"},
	{"/apply", "application"},
	{"/request-info", "rfi"},
	{"/blog", "blog"},
	{"/about", "about"},
	{"/faculty", "faculty"},
	{"/student-experience", "student_experience"},
}

// Classify maps a URL path to a page type for event enrichment.
func Classify(path string) string {
	if path == "" || path == "/" {
		return "home"
	}
	for _, rule := range pageTypeRules {
		if strings.HasPrefix(path, rule.prefix) {
			return rule.pageType
		}
	}
	return "other"
}
