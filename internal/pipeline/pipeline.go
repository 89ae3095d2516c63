// Package pipeline implements the end-to-end per-request onion described
// in spec.md §4.5: route match, upstream selection, layered request
// mutation, forwarding, and response shaping (including the SSE
// transformer hand-off for streaming responses).
package pipeline

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/user/bungee-go/internal/expreval"
	"github.com/user/bungee-go/internal/health"
	"github.com/user/bungee-go/internal/jsonutil"
	"github.com/user/bungee-go/internal/models"
	"github.com/user/bungee-go/internal/ruleengine"
	"github.com/user/bungee-go/internal/selector"
	"github.com/user/bungee-go/internal/sse"
	"github.com/user/bungee-go/internal/transformer"
)

// Pipeline holds everything one worker needs to serve requests: the static
// route table, the in-memory health store, the transformer registry, and
// the HTTP forwarder.
type Pipeline struct {
	routes   []models.RouteConfig
	rewrites [][]compiledRewrite
	health   *health.Store
	registry *transformer.Registry
	forward  *Forwarder
	logger   *zap.Logger
	env      map[string]string
}

// New builds a Pipeline, precompiling every route's pathRewrite patterns
// up front so a bad regex is a config-load error, not a per-request one.
func New(routes []models.RouteConfig, healthStore *health.Store, registry *transformer.Registry, forwarder *Forwarder, logger *zap.Logger) (*Pipeline, error) {
	rewrites := make([][]compiledRewrite, len(routes))
	for i, r := range routes {
		cr, err := compilePathRewrites(r.PathRewrite)
		if err != nil {
			return nil, err
		}
		rewrites[i] = cr
	}
	return &Pipeline{
		routes:   routes,
		rewrites: rewrites,
		health:   healthStore,
		registry: registry,
		forward:  forwarder,
		logger:   logger,
		env:      processEnv(),
	}, nil
}

// Handler returns the gin.HandlerFunc that drives the whole pipeline. The
// caller is expected to have already special-cased any admin/UI prefix
// (spec.md §4.5 step 1) before reaching this handler; /health is answered
// here since it has no meaningful route-table entry.
func (p *Pipeline) Handler() gin.HandlerFunc {
	return p.handleRequest
}

func (p *Pipeline) handleRequest(c *gin.Context) {
	if c.Request.URL.Path == "/health" {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
		return
	}

	routeIdx := p.matchRoute(c.Request.URL.Path)
	if routeIdx < 0 {
		c.Status(http.StatusNotFound)
		return
	}
	route := &p.routes[routeIdx]

	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	// Cheap byte-level check for the `stream` flag: client selection (the
	// bounded-timeout vs. timeout-free Forward client) only needs this one
	// field, so it is worth avoiding a full JSON parse just to read it.
	streaming := gjson.GetBytes(rawBody, "stream").Bool()

	parsedBody := map[string]any{}
	if isJSONContentType(c.Request.Header.Get("Content-Type")) && len(rawBody) > 0 {
		if err := jsonutil.Unmarshal(rawBody, &parsedBody); err != nil {
			parsedBody = map[string]any{}
		}
	}

	candidates := p.candidatesFor(route)
	if len(candidates) == 0 {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	picked := selector.Select(candidates)
	if picked == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	queue := append([]*models.RuntimeUpstream{picked}, selector.RetryQueue(candidates, picked)...)

	incomingHeaders := flattenHeaders(c.Request.Header)
	delete(incomingHeaders, "host")

	var lastErr error
	for _, up := range queue {
		err := p.attempt(c, route, p.rewrites[routeIdx], up, rawBody, parsedBody, incomingHeaders, streaming)
		if err == nil {
			return
		}
		lastErr = err
		if !p.retryable(route, err) {
			p.logger.Error("upstream attempt failed, not retryable",
				zap.String("route", route.Path), zap.String("target", up.Upstream.Target), zap.Error(err))
			c.Status(http.StatusBadGateway)
			return
		}
		p.health.MarkUnhealthy(route.Path, up.Upstream.Target)
		p.logger.Warn("upstream attempt failed, trying next candidate",
			zap.String("route", route.Path), zap.String("target", up.Upstream.Target), zap.Error(err))
	}

	p.logger.Error("retry queue exhausted", zap.String("route", route.Path), zap.Error(lastErr))
	c.Status(http.StatusServiceUnavailable)
}

// matchRoute returns the index of the first route whose path prefixes
// pathname, or -1.
func (p *Pipeline) matchRoute(pathname string) int {
	for i, r := range p.routes {
		if strings.HasPrefix(pathname, r.Path) {
			return i
		}
	}
	return -1
}

// candidatesFor returns the pool the selector should draw from: the
// health store's tracked list for failover-enabled routes, or a transient
// all-healthy view of the static upstream list otherwise.
func (p *Pipeline) candidatesFor(route *models.RouteConfig) []*models.RuntimeUpstream {
	if route.Failover != nil && route.Failover.Enabled && p.health.HasFailover(route.Path) {
		return p.health.Healthy(route.Path)
	}
	out := make([]*models.RuntimeUpstream, len(route.Upstreams))
	for i, u := range route.Upstreams {
		out[i] = &models.RuntimeUpstream{Upstream: u, Status: models.StatusHealthy}
	}
	return out
}

// retryErr signals that one candidate failed in a way the caller should
// retry against the next candidate, without having written anything to
// the client yet.
type retryErr struct{ err error }

func (e *retryErr) Error() string { return e.err.Error() }
func (e *retryErr) Unwrap() error { return e.err }

func (p *Pipeline) retryable(route *models.RouteConfig, err error) bool {
	if route.Failover == nil || !route.Failover.Enabled {
		return false
	}
	var re *retryErr
	return errors.As(err, &re)
}

// attempt runs steps 5-11 of spec.md §4.5 for one candidate upstream. A
// nil return means the response was fully written to c. A non-nil return
// of type *retryErr means nothing was written and the caller may try the
// next candidate; any other error type is also unwritten but should be
// treated as terminal by the caller.
func (p *Pipeline) attempt(
	c *gin.Context,
	route *models.RouteConfig,
	rewrites []compiledRewrite,
	up *models.RuntimeUpstream,
	rawBody []byte,
	parsedBody map[string]any,
	incomingHeaders map[string]string,
	streaming bool,
) error {
	upstream := up.Upstream
	target, err := parseTarget(upstream.Target)
	if err != nil {
		return err
	}

	pathname := applyPathRewrite(rewrites, c.Request.URL.Path)
	search := c.Request.URL.RawQuery
	method := c.Request.Method

	ctx := &requestContext{
		headers:  incomingHeaders,
		body:     parsedBody,
		pathname: pathname,
		search:   search,
		host:     c.Request.Host,
		protocol: schemeOf(c),
		method:   method,
		env:      p.env,
	}

	outerBodyRules := ruleengine.DeepMerge(route.Body, upstream.Body)
	outerHeaderRules := ruleengine.DeepMerge(route.Headers, upstream.Headers)

	intermediateResult, err := ruleengine.ApplyBody(outerBodyRules, ctx.body, expreval.NewEnv(ctx.toModel()))
	if err != nil {
		return err
	}
	ctx.body = asObject(intermediateResult)

	transformerRef := upstream.Transformer
	if transformerRef.IsZero() {
		transformerRef = route.Transformer
	}
	entries, err := p.registry.Resolve(transformerRef, ctx.pathname)
	if err != nil {
		return err
	}
	var entry *models.TransformerConfig
	if len(entries) > 0 {
		entry = &entries[0]
	}

	if entry != nil && entry.Path != nil {
		newPathname, newSearch, err := transformer.RewritePath(entry.Path, ctx.pathname, expreval.NewEnv(ctx.toModel()))
		if err != nil {
			return err
		}
		original := ctx.pathname
		ctx.pathname = newPathname
		if newSearch != "" {
			ctx.search = newSearch
		}
		p.logger.Debug("transformer path rewrite", zap.String("from", original), zap.String("to", ctx.pathname))
	}

	var transformerRequestRules *models.ModificationRules
	if entry != nil {
		transformerRequestRules = entry.Request
		finalBodyResult, err := ruleengine.ApplyBody(transformerRequestRules, ctx.body, expreval.NewEnv(ctx.toModel()))
		if err != nil {
			return err
		}
		ctx.body = asObject(finalBodyResult)
	}

	finalHeaderRules := ruleengine.DeepMerge(outerHeaderRules, transformerRequestRules)
	finalHeaders, err := ruleengine.ApplyHeaders(finalHeaderRules, ctx.headers, expreval.NewEnv(ctx.toModel()))
	if err != nil {
		return err
	}

	targetURL := target.buildURL(ctx.pathname, ctx.search)

	outgoingBody := rawBody
	if isJSONContentType(headerValue(finalHeaders, "content-type")) {
		b, err := jsonutil.Marshal(ctx.body)
		if err != nil {
			return err
		}
		outgoingBody = b
	}
	if len(outgoingBody) == 0 {
		delete(finalHeaders, "content-length")
	} else {
		finalHeaders["content-length"] = strconv.Itoa(len(outgoingBody))
	}

	resp, err := p.forward.Forward(c.Request.Context(), method, targetURL, finalHeaders, outgoingBody, streaming)
	if err != nil {
		return &retryErr{err}
	}

	if route.Failover.IsRetryable(resp.StatusCode) {
		resp.Body.Close()
		return &retryErr{&UpstreamStatusError{Target: upstream.Target, StatusCode: resp.StatusCode}}
	}

	return p.shapeResponse(c, route, entry, upstream, resp, ctx, streaming)
}

func (p *Pipeline) shapeResponse(
	c *gin.Context,
	route *models.RouteConfig,
	entry *models.TransformerConfig,
	upstream models.Upstream,
	resp *UpstreamResponse,
	ctx *requestContext,
	streaming bool,
) error {
	defer resp.Body.Close()
	stripHopByHopHeaders(resp.Header)

	var responseRule *models.ResponseRule
	if entry != nil {
		var err error
		responseRule, err = selectResponseRule(entries1(entry), resp.StatusCode, resp.Header)
		if err != nil {
			p.logger.Warn("response rule match failed", zap.Error(err))
		}
	}

	if streaming {
		return p.shapeStreamingResponse(c, responseRule, upstream, resp, ctx)
	}
	return p.shapeBufferedResponse(c, responseRule, upstream, resp, ctx)
}

func entries1(entry *models.TransformerConfig) []models.TransformerConfig {
	return []models.TransformerConfig{*entry}
}

func (p *Pipeline) shapeStreamingResponse(
	c *gin.Context,
	rule *models.ResponseRule,
	upstream models.Upstream,
	resp *UpstreamResponse,
	ctx *requestContext,
) error {
	var streamRules *models.StreamOrLegacy
	if rule != nil {
		streamRules = rule.Rules.Stream
	}

	envBuilder := func(body map[string]any, stream models.StreamContext) *expreval.Env {
		respCtx := &models.RequestContext{
			Headers: flattenHeaders(resp.Header),
			Body:    body,
			URL:     models.RequestURL{Pathname: ctx.pathname, Search: ctx.search, Host: ctx.host, Protocol: ctx.protocol},
			Method:  ctx.method,
			Env:     ctx.env,
			Stream:  &stream,
		}
		return expreval.NewEnv(respCtx)
	}

	for k, vv := range resp.Header {
		for _, v := range vv {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)
	c.Writer.Flush()

	tr := sse.New(streamRules, envBuilder)
	if err := tr.Run(resp.Body, c.Writer); err != nil {
		p.logger.Error("sse transformer error", zap.Error(err))
	}
	return nil
}

func (p *Pipeline) shapeBufferedResponse(
	c *gin.Context,
	rule *models.ResponseRule,
	upstream models.Upstream,
	resp *UpstreamResponse,
	ctx *requestContext,
) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryErr{err}
	}

	finalBytes := body
	if isJSONContentType(resp.Header.Get("Content-Type")) && len(body) > 0 {
		var parsed map[string]any
		if err := jsonutil.Unmarshal(body, &parsed); err == nil {
			var bodyRules *models.ModificationRules
			if rule != nil {
				bodyRules = ruleengine.DeepMerge(upstream.Body, rule.Rules.Default)
			} else {
				bodyRules = upstream.Body
			}
			responseCtx := &models.RequestContext{
				Headers: flattenHeaders(resp.Header),
				Body:    parsed,
				URL:     models.RequestURL{Pathname: ctx.pathname, Search: ctx.search, Host: ctx.host, Protocol: ctx.protocol},
				Method:  ctx.method,
				Env:     ctx.env,
			}
			result, err := ruleengine.ApplyBody(bodyRules, parsed, expreval.NewEnv(responseCtx))
			if err == nil {
				if b, merr := jsonutil.Marshal(asObject(result)); merr == nil {
					finalBytes = b
				}
			}
		}
	}

	resp.Header.Set("Content-Length", strconv.Itoa(len(finalBytes)))
	for k, vv := range resp.Header {
		for _, v := range vv {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)
	_, err = c.Writer.Write(finalBytes)
	return err
}

func schemeOf(c *gin.Context) string {
	if c.Request.TLS != nil {
		return "https"
	}
	if proto := c.Request.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

func headerValue(headers map[string]string, key string) string {
	return headers[strings.ToLower(key)]
}

// asObject coerces a rule-engine result back into the single JSON object a
// request body (or a non-streaming response body) must be. A []any result
// (the __multi_events fan-out shape) only makes sense for SSE emission; in
// any other context, its first object element is used and the rest are
// dropped, since a single HTTP request/response body cannot fan out.
func asObject(v any) map[string]any {
	switch x := v.(type) {
	case map[string]any:
		return x
	case []any:
		for _, item := range x {
			if obj, ok := item.(map[string]any); ok {
				return obj
			}
		}
		return map[string]any{}
	default:
		return map[string]any{}
	}
}
