package health

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProbeRequest is the main-worker → probe message of spec.md §6's
// health-probe protocol.
type ProbeRequest struct {
	Target               string
	RetryableStatusCodes []int
	Method               string
	URL                  string
	Headers              [][2]string
	Body                 []byte
}

// ProbeResult is the probe → main-worker message. Failed probes are never
// sent (spec.md §4.7: "failed probes are silent").
type ProbeResult struct {
	Status string // always "recovered"
	Target string
}

// Prober is the dedicated recovery-probe execution context: a small pool
// of goroutines consuming ProbeRequest over a channel and reporting
// ProbeResult over another, with no shared mutable state between them and
// the request-serving goroutines besides those two channels — the
// "separate execution context" spec.md §4.7 calls for, implemented as a
// bounded goroutine pool (grounded on the teacher's heartbeat-loop
// lifecycle idiom) rather than a second OS process.
type Prober struct {
	client  *http.Client
	logger  *zap.Logger
	reqs    chan ProbeRequest
	results chan ProbeResult

	wg sync.WaitGroup
}

// NewProber creates a Prober; no goroutines run until Start is called with
// the desired concurrency.
func NewProber(concurrency int, timeout time.Duration, logger *zap.Logger) *Prober {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Prober{
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		reqs:    make(chan ProbeRequest, 64),
		results: make(chan ProbeResult, 64),
	}
}

// Start spawns the worker pool. Cancel ctx to drain and stop.
func (p *Prober) Start(ctx context.Context, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx)
	}
}

// Stop closes the request channel and waits for in-flight probes to drain.
func (p *Prober) Stop() {
	close(p.reqs)
	p.wg.Wait()
	close(p.results)
}

// Submit enqueues a probe request; non-blocking if the queue has room.
func (p *Prober) Submit(req ProbeRequest) {
	select {
	case p.reqs <- req:
	default:
		if p.logger != nil {
			p.logger.Warn("probe queue full, dropping probe", zap.String("target", req.Target))
		}
	}
}

// Results returns the channel of recovery results for the main worker to drain.
func (p *Prober) Results() <-chan ProbeResult {
	return p.results
}

func (p *Prober) loop(ctx context.Context) {
	defer p.wg.Done()
	for req := range p.reqs {
		p.probe(ctx, req)
	}
}

func (p *Prober) probe(ctx context.Context, req ProbeRequest) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body *bytes.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	} else {
		body = bytes.NewReader(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return
	}
	for _, kv := range req.Headers {
		httpReq.Header.Set(kv[0], kv[1])
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return // silent failure
	}
	defer resp.Body.Close()

	if !containsStatus(req.RetryableStatusCodes, resp.StatusCode) {
		select {
		case p.results <- ProbeResult{Status: "recovered", Target: req.Target}:
		default:
		}
	}
}

func containsStatus(codes []int, status int) bool {
	for _, c := range codes {
		if c == status {
			return true
		}
	}
	return false
}

// ScheduleLoop is the fixed-interval background probe loop decided in
// DESIGN.md's Open Question #2: every interval, it submits a probe for
// every currently-unhealthy upstream across all routes.
func ScheduleLoop(ctx context.Context, store *Store, prober *Prober, interval time.Duration, buildRequest func(UnhealthyEntry) ProbeRequest) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, entry := range store.Unhealthy() {
				prober.Submit(buildRequest(entry))
			}
		}
	}
}

// DrainRecoveries reads ProbeResult messages from prober until ctx is
// cancelled, applying each recovery to store. Run this in its own
// goroutine alongside ScheduleLoop.
func DrainRecoveries(ctx context.Context, store *Store, prober *Prober) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-prober.Results():
			if !ok {
				return
			}
			store.RecoverFirstMatch(res.Target)
		}
	}
}
