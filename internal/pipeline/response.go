package pipeline

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/user/bungee-go/internal/models"
)

// selectResponseRule finds the first ResponseRule, across all resolved
// transformer entries in order, whose match.status matches status and
// whose match.headers are all present with matching values (spec.md §4.5
// step 10).
func selectResponseRule(entries []models.TransformerConfig, status int, headers http.Header) (*models.ResponseRule, error) {
	statusStr := strconv.Itoa(status)
	for _, entry := range entries {
		for i := range entry.Response {
			rule := &entry.Response[i]
			ok, err := regexp.MatchString(rule.Match.Status, statusStr)
			if err != nil {
				return nil, fmt.Errorf("pipeline: bad response match.status regex: %w", err)
			}
			if !ok {
				continue
			}
			if !headersMatch(rule.Match.Headers, headers) {
				continue
			}
			return rule, nil
		}
	}
	return nil, nil
}

func headersMatch(want map[string]string, got http.Header) bool {
	for k, v := range want {
		if got.Get(k) != v {
			return false
		}
	}
	return true
}

// stripHopByHopHeaders removes the headers the pipeline recomputes itself
// (spec.md §4.5 step 11): the body may be re-shaped and re-encoded, so any
// upstream Transfer-Encoding/Content-Encoding framing no longer applies.
func stripHopByHopHeaders(h http.Header) {
	h.Del("Transfer-Encoding")
	h.Del("Content-Encoding")
	h.Del("Content-Length")
}

func isJSONContentType(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}
