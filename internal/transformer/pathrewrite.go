package transformer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/user/bungee-go/internal/expreval"
	"github.com/user/bungee-go/internal/models"
)

// RewritePath applies a transformer's path rule (spec.md §4.5 step 7c): the
// rule's `replace` template is interpolated against env first (it may embed
// `{{ expr }}` markers or regexp backreferences like `$1`), then the
// resulting string is used as the replacement in a regexp substitution
// against pathname using the rule's `match` pattern. The result is split on
// the first `?` into pathname and search.
func RewritePath(rule *models.PathRule, pathname string, env *expreval.Env) (newPathname, search string, err error) {
	if rule == nil {
		return pathname, "", nil
	}
	replacement, err := expreval.InterpolateValue(rule.Replace, env)
	if err != nil {
		return "", "", fmt.Errorf("transformer path rewrite: %w", err)
	}
	re, err := regexp.Compile(rule.Match)
	if err != nil {
		return "", "", fmt.Errorf("transformer path rewrite: bad match regex: %w", err)
	}
	rewritten := re.ReplaceAllString(pathname, expreval.Stringify(replacement))
	if idx := strings.IndexByte(rewritten, '?'); idx >= 0 {
		return rewritten[:idx], rewritten[idx+1:], nil
	}
	return rewritten, "", nil
}
