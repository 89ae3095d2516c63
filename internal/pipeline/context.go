package pipeline

import (
	"net/http"
	"os"
	"strings"

	"github.com/user/bungee-go/internal/models"
)

// processEnv snapshots the worker's environment once at startup; it backs
// the `env.VAR` surface the expression evaluator exposes to rules.
func processEnv() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// flattenHeaders collapses a net/http.Header into the lowercase-keyed
// map[string]string shape the rule engine and expression evaluator operate
// on; repeated header values are joined per RFC 7230 §3.2.2.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		out[strings.ToLower(k)] = strings.Join(vv, ", ")
	}
	return out
}

// requestContext bundles the mutable state threaded through one onion
// application (spec.md §4.5 steps 5-7): the pipeline rebuilds a
// models.RequestContext from it after every stage that can change the
// body, headers, or pathname.
type requestContext struct {
	headers  map[string]string
	body     map[string]any
	pathname string
	search   string
	host     string
	protocol string
	method   string
	env      map[string]string
}

func (c *requestContext) toModel() *models.RequestContext {
	return &models.RequestContext{
		Headers: c.headers,
		Body:    c.body,
		URL: models.RequestURL{
			Pathname: c.pathname,
			Search:   c.search,
			Host:     c.host,
			Protocol: c.protocol,
		},
		Method: c.method,
		Env:    c.env,
	}
}
