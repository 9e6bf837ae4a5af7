package client

import (
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	defaultRetries = 3

	userAgentValue = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 3 * time.Second

	successMinCode   = http.StatusOK                  // 200
	retryableMinCode = http.StatusInternalServerError // 500
)

// defaultTransport is a tuned HTTP transport reused across clients.
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ResponseHeaderTimeout: 10 * time.Second,
	ForceAttemptHTTP2:     true,
	// Compression is negotiated explicitly so response readers can pick the
	// matching decoder (gzip/deflate/br).
	DisableCompression: true,
	ReadBufferSize:     16 * 1024,
	WriteBufferSize:    16 * 1024,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Policy is a reusable retry policy shared by every network-calling component.
// Zero values fall back to package defaults.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool
}

// DefaultPolicy returns the retry policy used when callers do not supply one.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  defaultRetries,
		BaseDelay: initialBackoff,
		MaxDelay:  maxBackoff,
		Jitter:    true,
	}
}

func (p Policy) normalized() Policy {
	if p.Attempts < 1 {
		p.Attempts = defaultRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = initialBackoff
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = maxBackoff
	}
	return p
}

// Backoff returns the delay before the given zero-based retry attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.Jitter {
		if q := int64(d) / 4; q > 0 {
			d += time.Duration(rand.Int63n(q))
		}
	}
	return d
}

// Config holds optional client parameters. Zero values use defaults.
type Config struct {
	Timeout   time.Duration
	Retry     Policy
	UserAgent string
	ProxyURL  string
}

// Client wraps http.Client with retry/backoff and default headers.
type Client struct {
	HTTPClient *http.Client
	Retry      Policy
	UserAgent  string
}

// New creates a new Client with a tuned Transport, default timeout, and retries.
func New() *Client {
	return &Client{
		HTTPClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: defaultTransport,
		},
		Retry:     DefaultPolicy(),
		UserAgent: userAgentValue,
	}
}

// NewWith creates a new client with provided config. Zero values use defaults.
func NewWith(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = userAgentValue
	}

	tr := defaultTransport.Clone()
	if cfg.ProxyURL != "" {
		if proxyFunc, err := proxyFromURLString(cfg.ProxyURL); err == nil {
			tr.Proxy = proxyFunc
		}
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: tr,
		},
		Retry:     cfg.Retry.normalized(),
		UserAgent: ua,
	}
}

// Do executes req with the client's retry policy. Transient failures (network
// errors and HTTP 5xx) are retried with exponential backoff; any other status
// is returned to the caller for classification. Requests with a body must
// have GetBody set, which http.NewRequest does for common body types.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		ua := c.UserAgent
		if ua == "" {
			ua = userAgentValue
		}
		req.Header.Set("User-Agent", ua)
	}

	policy := c.Retry.normalized()
	var resp *http.Response
	var err error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return nil, berr
			}
			req.Body = body
		}
		resp, err = c.HTTPClient.Do(req)
		if err == nil && resp != nil && resp.StatusCode >= successMinCode && resp.StatusCode < retryableMinCode {
			return resp, nil
		}
		if req.Context().Err() != nil {
			break
		}
		// The last response goes back to the caller with its body readable;
		// callers report the status and a body excerpt on persistent failures.
		if attempt == policy.Attempts-1 {
			break
		}
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		time.Sleep(policy.Backoff(attempt))
	}
	return resp, err
}

// Get performs a GET request with the retry policy applied.
func (c *Client) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// proxyFromURLString parses a proxy URL and returns a Proxy function.
func proxyFromURLString(raw string) (func(*http.Request) (*url.URL, error), error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return http.ProxyURL(u), nil
}
