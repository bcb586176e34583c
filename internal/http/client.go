// Package http is the request executor of the load engine: it sends one
// abstract request, reads the full response and classifies failures.
package http

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

// ClientConfig contains HTTP client configuration.
type ClientConfig struct {
	// Timeout is the default per-request timeout
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host (0 = unlimited)
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool

	// DefaultHeaders are applied to every request unless the request sets them
	DefaultHeaders map[string]string
}

// DefaultClientConfig returns sensible defaults for load testing.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Client executes requests on a shared connection pool.
//
// Client is safe for concurrent use by many virtual users. It never retries.
type Client struct {
	httpClient *http.Client
	config     ClientConfig
}

// NewClient creates a client with its own tuned transport.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClientConfig().Timeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.MaxIdleConns
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	transport.MaxConnsPerHost = cfg.MaxConnsPerHost
	transport.IdleConnTimeout = cfg.IdleConnTimeout
	transport.DisableKeepAlives = cfg.DisableKeepAlives
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in
	}

	return &Client{
		// Deadlines are carried by the request context, not http.Client.Timeout,
		// so that connect and read timeouts can be told apart.
		httpClient: &http.Client{Transport: transport},
		config:     cfg,
	}
}

// Execute sends req and returns the fully read response.
//
// timeout bounds the whole exchange; 0 falls back to req.Timeout and then to
// the client default. Any failure to obtain a response is returned as a
// *TransportError.
func (c *Client) Execute(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = req.Timeout
	}
	if timeout <= 0 {
		timeout = c.config.Timeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := req.Build(reqCtx)
	if err != nil {
		return nil, &TransportError{Kind: ErrOther, Op: req.method(), URL: req.URL, Err: err}
	}
	for key, value := range c.config.DefaultHeaders {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}

	start := time.Now()
	phases := newPhaseTimer(start)
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(reqCtx, phases.trace()))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{
			Kind: classify(ctx, err, phases.connected(), phases.tlsFailed()),
			Op:   httpReq.Method,
			URL:  req.URL,
			Err:  err,
		}
	}
	defer httpResp.Body.Close()

	transferStart := time.Now()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{
			Kind: classify(ctx, err, true, false),
			Op:   httpReq.Method,
			URL:  req.URL,
			Err:  err,
		}
	}
	timing := phases.timing()
	timing.ContentTransferTime = time.Since(transferStart)
	timing.TotalTime = time.Since(start)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    httpResp.Header,
		Body:       body,
		Duration:   timing.TotalTime,
		Timing:     timing,
	}, nil
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// phaseTimer collects connection phase timings from httptrace callbacks. The
// transport may call them from several goroutines when dials race.
type phaseTimer struct {
	mu                               sync.Mutex
	info                             TimingInfo
	dnsStart, connectStart, tlsStart time.Time
	lastPhaseEnd                     time.Time
	gotConn, tlsErr                  bool
}

func newPhaseTimer(start time.Time) *phaseTimer {
	return &phaseTimer{lastPhaseEnd: start}
}

func (p *phaseTimer) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			p.begin(&p.dnsStart)
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			p.end(&p.info.DNSLookupTime, &p.dnsStart)
		},
		ConnectStart: func(string, string) {
			p.begin(&p.connectStart)
		},
		ConnectDone: func(_, _ string, err error) {
			if err == nil {
				p.end(&p.info.TCPConnectTime, &p.connectStart)
			}
		},
		TLSHandshakeStart: func() {
			p.begin(&p.tlsStart)
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err != nil {
				p.mu.Lock()
				p.tlsErr = true
				p.mu.Unlock()
				return
			}
			p.end(&p.info.TLSHandshakeTime, &p.tlsStart)
		},
		GotConn: func(httptrace.GotConnInfo) {
			p.mu.Lock()
			p.gotConn = true
			p.mu.Unlock()
		},
		GotFirstResponseByte: func() {
			p.mu.Lock()
			p.info.TimeToFirstByte = time.Since(p.lastPhaseEnd)
			p.mu.Unlock()
		},
	}
}

func (p *phaseTimer) begin(at *time.Time) {
	p.mu.Lock()
	*at = time.Now()
	p.mu.Unlock()
}

func (p *phaseTimer) end(d *time.Duration, since *time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPhaseEnd = time.Now()
	*d = p.lastPhaseEnd.Sub(*since)
}

func (p *phaseTimer) connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gotConn
}

func (p *phaseTimer) tlsFailed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tlsErr
}

func (p *phaseTimer) timing() TimingInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}
