package gate

import "strings"

// DefaultExcludePrefixes are the path prefixes, relative to the leading
// slash, that the gate never intercepts: static assets, image optimization,
// metadata files and API routes.
var DefaultExcludePrefixes = []string{
	"static",
	"_image",
	"favicon.ico",
	"sitemap.xml",
	"robots.txt",
	"api",
}

// Matcher decides whether the gate applies to a path. A path is excluded
// when the part after its leading slash starts with one of the prefixes, so
// "api" excludes "/api/v1/me" and also "/apiary".
type Matcher struct {
	exclude []string
}

// NewMatcher builds a matcher; with no prefixes it uses DefaultExcludePrefixes
func NewMatcher(prefixes ...string) *Matcher {
	if len(prefixes) == 0 {
		prefixes = DefaultExcludePrefixes
	}
	exclude := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimPrefix(strings.TrimSpace(p), "/")
		if p != "" {
			exclude = append(exclude, p)
		}
	}
	return &Matcher{exclude: exclude}
}

// ExcludedBy returns the prefix that excludes path, if any
func (m *Matcher) ExcludedBy(path string) (string, bool) {
	rel := strings.TrimPrefix(path, "/")
	for _, p := range m.exclude {
		if strings.HasPrefix(rel, p) {
			return p, true
		}
	}
	return "", false
}

// Applies reports whether the gate should run for path
func (m *Matcher) Applies(path string) bool {
	_, excluded := m.ExcludedBy(path)
	return !excluded
}

// Prefixes returns a copy of the exclusion list
func (m *Matcher) Prefixes() []string {
	return append([]string(nil), m.exclude...)
}
