// Package models defines the configuration and runtime domain types shared
// across the proxy: route/upstream configuration shapes, the per-request
// evaluation context, and the in-memory health state of an upstream.
package models

import "time"

// UpstreamStatus is the health state of a RuntimeUpstream.
type UpstreamStatus string

const (
	StatusHealthy   UpstreamStatus = "healthy"
	StatusUnhealthy UpstreamStatus = "unhealthy"
)

// ModificationRules is the four-verb rule set applied to a header map or a
// JSON body by the rule engine. Add/Replace/Default hold marker-bearing
// values (strings may embed `{{ expr }}`); Remove lists keys to drop.
type ModificationRules struct {
	Add     map[string]any `json:"add,omitempty"`
	Replace map[string]any `json:"replace,omitempty"`
	Default map[string]any `json:"default,omitempty"` // body-only
	Remove  []string       `json:"remove,omitempty"`
}

// IsZero reports whether r has no rules at all (the "empty rule identity" law).
func (r *ModificationRules) IsZero() bool {
	return r == nil || (len(r.Add) == 0 && len(r.Replace) == 0 && len(r.Default) == 0 && len(r.Remove) == 0)
}

// StreamTransformRules is the start/chunk/end variant of response stream
// rules. When none of the three are set, a ResponseRuleSet's Stream field is
// instead a plain ModificationRules applied in SSE "legacy mode".
type StreamTransformRules struct {
	Start *ModificationRules `json:"start,omitempty"`
	Chunk *ModificationRules `json:"chunk,omitempty"`
	End   *ModificationRules `json:"end,omitempty"`
}

// IsStateMachine reports whether any of start/chunk/end is configured.
func (s *StreamTransformRules) IsStateMachine() bool {
	return s != nil && (s.Start != nil || s.Chunk != nil || s.End != nil)
}

// ResponseMatch selects a ResponseRule by upstream response status/headers.
type ResponseMatch struct {
	Status  string            `json:"status"` // regex
	Headers map[string]string `json:"headers,omitempty"`
}

// ResponseRuleSet holds the default (non-streaming) and stream rule shapes
// for one matched ResponseRule.
type ResponseRuleSet struct {
	Default *ModificationRules `json:"default,omitempty"`
	// Stream is either a legacy plain ModificationRules or a
	// StreamTransformRules object; see StreamOrLegacy.UnmarshalJSON in
	// transformer_config.go.
	Stream *StreamOrLegacy `json:"stream,omitempty"`
}

// ResponseRule pairs a status/header match with the rules to apply when it
// matches. The registry/pipeline picks the first ResponseRule whose Match
// matches the upstream's response.
type ResponseRule struct {
	Match ResponseMatch   `json:"match"`
	Rules ResponseRuleSet `json:"rules"`
}

// PathRule is the transformer's path rewrite: a regex match plus an
// expression-bearing replacement template.
type PathRule struct {
	Action  string `json:"action"` // always "replace"
	Match   string `json:"match"`  // regex
	Replace string `json:"replace"`
}

// TransformerConfig bundles an optional path rewrite, request-side rules,
// and an ordered list of response rules — typically one API-format
// conversion (e.g. anthropic-to-openai).
type TransformerConfig struct {
	Path     *PathRule          `json:"path,omitempty"`
	Request  *ModificationRules `json:"request,omitempty"`
	Response []ResponseRule     `json:"response,omitempty"`
}

// TransformerRef is route/upstream.transformer: a bare name, a single inline
// TransformerConfig, or an ordered list of TransformerConfigs. See
// transformer_config.go for its custom JSON unmarshalling.
type TransformerRef struct {
	Name    string               `json:"-"`
	Inline  *TransformerConfig   `json:"-"`
	Ordered []TransformerConfig  `json:"-"`
}

// IsZero reports whether no transformer reference was configured at all.
func (t *TransformerRef) IsZero() bool {
	return t == nil || (t.Name == "" && t.Inline == nil && len(t.Ordered) == 0)
}

// Upstream is one forwarding target within a route's pool.
type Upstream struct {
	Target      string             `json:"target"`
	Weight      int                `json:"weight"`
	Priority    int                `json:"priority"`
	Transformer *TransformerRef    `json:"transformer,omitempty"`
	Headers     *ModificationRules `json:"headers,omitempty"`
	Body        *ModificationRules `json:"body,omitempty"`
}

// FailoverConfig controls retry/failover behavior for a route.
type FailoverConfig struct {
	Enabled              bool  `json:"enabled"`
	RetryableStatusCodes []int `json:"retryableStatusCodes,omitempty"`
}

// IsRetryable reports whether status is configured as retryable for this route.
func (f *FailoverConfig) IsRetryable(status int) bool {
	if f == nil {
		return false
	}
	for _, c := range f.RetryableStatusCodes {
		if c == status {
			return true
		}
	}
	return false
}

// HealthCheckConfig controls the per-route recovery probe.
type HealthCheckConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"intervalSeconds"`
}

// PathRewriteRule is one [pattern, replacement] pair. Route.PathRewrite is
// evaluated in the order given here, first match wins.
type PathRewriteRule struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
}

// RouteConfig is one entry in the configuration document's routes list.
type RouteConfig struct {
	Path        string             `json:"path"`
	PathRewrite []PathRewriteRule  `json:"pathRewrite,omitempty"`
	Transformer *TransformerRef    `json:"transformer,omitempty"`
	Headers     *ModificationRules `json:"headers,omitempty"`
	Body        *ModificationRules `json:"body,omitempty"`
	Upstreams   []Upstream         `json:"upstreams"`
	Failover    *FailoverConfig    `json:"failover,omitempty"`
	HealthCheck *HealthCheckConfig `json:"healthCheck,omitempty"`
}

// RuntimeUpstream is an Upstream plus the in-memory health flags the
// selector and health-probe mutate for the lifetime of a worker process.
type RuntimeUpstream struct {
	Upstream    Upstream
	Status      UpstreamStatus
	LastFailure time.Time
}

// RequestURL is the url field of a RequestContext.
type RequestURL struct {
	Pathname string `json:"pathname"`
	Search   string `json:"search"`
	Host     string `json:"host"`
	Protocol string `json:"protocol"`
}

// StreamPhase names the three positions of the SSE transformer state machine.
type StreamPhase string

const (
	PhaseStart StreamPhase = "start"
	PhaseChunk StreamPhase = "chunk"
	PhaseEnd   StreamPhase = "end"
)

// StreamContext is present on a RequestContext only during SSE transformation.
type StreamContext struct {
	Phase      StreamPhase `json:"phase"`
	ChunkIndex int         `json:"chunkIndex"`
}

// RequestContext is the per-request (or per-frame) evaluation context passed
// to the expression evaluator and the rule engine. It is never mutated by
// evaluation; callers rebuild a new RequestContext when the body or
// pathname changes.
type RequestContext struct {
	Headers map[string]string // lowercased header names
	Body    map[string]any
	URL     RequestURL
	Method  string
	Env     map[string]string
	Stream  *StreamContext
}
