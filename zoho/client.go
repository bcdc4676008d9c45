package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/zbulk/am"
	"github.com/teranos/zbulk/errors"
	"github.com/teranos/zbulk/internal/httpclient"
	"github.com/teranos/zbulk/logger"
	"github.com/teranos/zbulk/pulse/bulk"
)

// maxResponseBytes bounds how much of a response body is kept
const maxResponseBytes = 1 << 20

// Credentials authenticate one call
type Credentials struct {
	Profile     string // Rate limiter bucket
	AccessToken string
	OrgID       string
	DataCenter  string
}

// Request is one API call relative to a product's base URL
type Request struct {
	Product Product
	Method  string
	Path    string
	Query   url.Values
	Body    any        // JSON-encoded when set
	Form    url.Values // Form-encoded when set; wins over Body
}

// Response is a completed call
type Response struct {
	StatusCode int
	Code       int    // Zoho application code, when the body carries one
	Message    string // Zoho message, when the body carries one
	Body       json.RawMessage
}

// ClientConfig configures a Client
type ClientConfig struct {
	Timeout           time.Duration
	RequestsPerMinute int  // Per profile, 0 = unlimited
	AllowPrivateHosts bool // Tests and on-prem proxies
	// BaseURL replaces scheme and host for every product. Empty uses the
	// product's data center host.
	BaseURL     string
	TraceBodies bool // Log response bodies at debug level (-vvv)
	Logger      *zap.SugaredLogger
}

// ConfigFromAm maps the [zoho] config section onto a ClientConfig
func ConfigFromAm(cfg am.ZohoConfig) ClientConfig {
	return ClientConfig{
		Timeout:           cfg.RequestTimeout(),
		RequestsPerMinute: cfg.RequestsPerMinute,
		AllowPrivateHosts: cfg.AllowPrivateHosts,
	}
}

// Client performs authenticated Zoho API calls
type Client struct {
	http   *httpclient.SaferClient
	cfg    ClientConfig
	logger *zap.SugaredLogger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a client
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Client{
		http: httpclient.New(httpclient.Options{
			Timeout:             cfg.Timeout,
			AllowedHostSuffixes: AllowedHostSuffixes(),
			AllowPrivateHosts:   cfg.AllowPrivateHosts,
		}),
		cfg:      cfg,
		logger:   cfg.Logger.Named("zoho"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Limiter returns the shared request limiter for a profile, or nil when
// calls are unlimited
func (c *Client) Limiter(profileName string) *rate.Limiter {
	if c.cfg.RequestsPerMinute <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[profileName]
	if !ok {
		l = bulk.PerMinute(c.cfg.RequestsPerMinute)
		c.limiters[profileName] = l
	}
	return l
}

// Do sends req. A non-nil Response is returned whenever the remote answered,
// even when the error reports a failed call. Errors carry a
// bulk.FailureReason: rate_limited for 429, unauthorized for 401/403, server
// for 5xx, http for other 4xx and remote for a 2xx whose body reports an
// application error.
func (c *Client) Do(ctx context.Context, req Request, creds Credentials) (*Response, error) {
	if creds.AccessToken == "" {
		return nil, bulk.WithReason(errors.New("no access token"), bulk.FailureUnauthorized)
	}

	httpReq, err := c.build(ctx, req, creds)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "zoho request aborted")
		}
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, bulk.WithReason(errors.Wrap(err, "failed to read response body"), bulk.FailureNetwork)
	}

	out := &Response{StatusCode: resp.StatusCode, Body: json.RawMessage(body)}
	hasCode := parseEnvelope(body, out)

	c.logger.Debugw("Zoho call", append(logger.FieldsFromContext(ctx),
		logger.FieldProfile, creds.Profile,
		logger.FieldMethod, req.Method,
		logger.FieldPath, req.Path,
		logger.FieldStatus, resp.StatusCode,
		"code", out.Code,
		logger.FieldDurationMS, time.Since(start).Milliseconds())...)
	if c.cfg.TraceBodies {
		c.logger.Debugw("Zoho response body", append(logger.FieldsFromContext(ctx),
			logger.FieldPath, req.Path,
			"body", string(body))...)
	}

	return out, classifyResponse(out, hasCode)
}

func (c *Client) build(ctx context.Context, req Request, creds Credentials) (*http.Request, error) {
	base, err := req.Product.BaseURL(creds.DataCenter)
	if err != nil {
		return nil, bulk.WithReason(err, bulk.FailureValidation)
	}
	if c.cfg.BaseURL != "" {
		base = strings.TrimRight(c.cfg.BaseURL, "/") + req.Product.BasePath
	}

	u, err := c.http.ValidateURL(base + "/" + strings.TrimLeft(req.Path, "/"))
	if err != nil {
		return nil, bulk.WithReason(err, bulk.FailureValidation)
	}

	q := u.Query()
	for k, vs := range req.Query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if req.Product.OrgQuery != "" && creds.OrgID != "" {
		q.Set(req.Product.OrgQuery, creds.OrgID)
	}
	u.RawQuery = q.Encode()

	var body io.Reader
	contentType := ""
	switch {
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, bulk.WithReason(errors.Wrap(err, "failed to encode request body"), bulk.FailureValidation)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, bulk.WithReason(errors.Wrap(err, "failed to build request"), bulk.FailureValidation)
	}

	httpReq.Header.Set("Authorization", "Zoho-oauthtoken "+creds.AccessToken)
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.Product.OrgHeader != "" && creds.OrgID != "" {
		httpReq.Header.Set(req.Product.OrgHeader, creds.OrgID)
	}
	return httpReq, nil
}

// envelope covers the status fields Zoho APIs put in their bodies
type envelope struct {
	Code      *json.Number `json:"code"`
	Message   string       `json:"message"`
	ErrorCode string       `json:"errorCode"`
}

// parseEnvelope fills Code and Message. Returns true when the body carried
// a numeric code.
func parseEnvelope(body []byte, out *Response) bool {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false
	}
	out.Message = env.Message
	if out.Message == "" {
		out.Message = env.ErrorCode
	}
	if env.Code == nil {
		return false
	}
	n, err := env.Code.Int64()
	if err != nil {
		return false
	}
	out.Code = int(n)
	return true
}

// successCodes are the application codes that mean success: 0 for most
// products, 3000 for Creator
var successCodes = map[int]bool{0: true, 3000: true}

func classifyResponse(resp *Response, hasCode bool) error {
	status := resp.StatusCode
	msg := resp.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return bulk.WithReason(errors.Newf("rate limited (HTTP 429): %s", msg), bulk.FailureRateLimited)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return bulk.WithReason(errors.Newf("HTTP %d: %s", status, msg), bulk.FailureUnauthorized)
	case status >= 500:
		return bulk.WithReason(errors.Newf("HTTP %d: %s", status, msg), bulk.FailureServer)
	case status >= 400:
		return bulk.WithReason(errors.Newf("HTTP %d: %s", status, msg), bulk.FailureHTTP)
	case status < 200 || status >= 300:
		return bulk.WithReason(errors.Newf("unexpected HTTP %d", status), bulk.FailureHTTP)
	case hasCode && !successCodes[resp.Code]:
		return bulk.WithReason(errors.Newf("code %d: %s", resp.Code, msg), bulk.FailureRemote)
	}
	return nil
}
