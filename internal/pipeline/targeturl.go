package pipeline

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/user/bungee-go/internal/models"
)

// parsedTarget is an upstream.target URL split into the pieces the onion
// needs separately: scheme+host for the outgoing request, and basePath to
// prepend to the (possibly rewritten) request pathname.
type parsedTarget struct {
	scheme   string
	host     string
	basePath string
}

func parseTarget(target string) (*parsedTarget, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("pipeline: invalid upstream target %q: %w", target, err)
	}
	return &parsedTarget{
		scheme:   u.Scheme,
		host:     u.Host,
		basePath: strings.TrimSuffix(u.Path, "/"),
	}, nil
}

func (t *parsedTarget) buildURL(pathname, search string) string {
	full := t.scheme + "://" + t.host + t.basePath + pathname
	if search != "" {
		full += "?" + search
	}
	return full
}

// compiledRewrite is one route pathRewrite entry with its pattern
// precompiled at config-load time.
type compiledRewrite struct {
	re          *regexp.Regexp
	replacement string
}

func compilePathRewrites(rules []models.PathRewriteRule) ([]compiledRewrite, error) {
	out := make([]compiledRewrite, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pipeline: bad pathRewrite pattern %q: %w", r.Pattern, err)
		}
		out = append(out, compiledRewrite{re: re, replacement: r.Replacement})
	}
	return out, nil
}

// applyPathRewrite returns the pathname after the first matching rewrite
// rule (spec.md §4.5 step 5: "first regex that matches wins"), or the
// original pathname unchanged if none match.
func applyPathRewrite(rewrites []compiledRewrite, pathname string) string {
	for _, rw := range rewrites {
		if rw.re.MatchString(pathname) {
			return rw.re.ReplaceAllString(pathname, rw.replacement)
		}
	}
	return pathname
}
