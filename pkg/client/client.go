package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"boardscraper/pkg/config"
	errs "boardscraper/pkg/errors"
	"boardscraper/pkg/logger"
	"boardscraper/pkg/ratelimit"
	"boardscraper/pkg/transform"
)

const (
	// EnvelopeAuto looks for rows at the top level, then under "data"
	EnvelopeAuto = ""
	// EnvelopeData requires rows and total under "data"
	EnvelopeData = "data"
	// EnvelopeNone requires rows and total at the top level
	EnvelopeNone = "none"

	maxBodyPreview = 200
)

// PageResult is one decoded page of the listing
type PageResult struct {
	Page     int
	PageSize int
	Total    int
	Rows     []transform.RawRecord
	Metadata transform.SideMetadata
}

// TotalPages returns ceil(Total / PageSize)
func (p *PageResult) TotalPages() int {
	if p.PageSize <= 0 || p.Total <= 0 {
		return 0
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}

// Options wires the client to its collaborators
type Options struct {
	API          config.APIConfig
	Transport    config.TransportConfig
	MetadataPath string
	Logger       logger.Logger

	// Limiter, when set, is waited on before every HTTP attempt
	Limiter ratelimit.Limiter
	// OnTransportRetry is called with the status (0 for network errors)
	// of every retried round trip
	OnTransportRetry func(status int)
	Sleep            ratelimit.SleepFunc
	// RoundTripper replaces http.DefaultTransport underneath the retry layer
	RoundTripper http.RoundTripper
}

// Client posts page queries to a listing endpoint
type Client struct {
	httpClient   *http.Client
	api          config.APIConfig
	headers      map[string]string
	metadataPath string
	logger       logger.Logger
}

// New creates a client for opts.API.Endpoint
func New(opts Options) (*Client, error) {
	if opts.API.Endpoint == "" {
		return nil, errs.Fatal(0, "api endpoint is required", nil)
	}
	if _, err := url.ParseRequestURI(opts.API.Endpoint); err != nil {
		return nil, errs.Fatal(0, "invalid api endpoint", err)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}

	base := opts.RoundTripper
	if base == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if opts.API.InsecureSkipVerify {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		base = tr
	}

	timeout := opts.API.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	headers := map[string]string{
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
		"Content-Type":    "application/x-www-form-urlencoded",
	}
	if opts.API.UserAgent != "" {
		headers["User-Agent"] = opts.API.UserAgent
	}
	if opts.API.Cookie != "" {
		headers["Cookie"] = opts.API.Cookie
	}
	for k, v := range opts.API.Headers {
		headers[k] = v
	}

	return &Client{
		httpClient: &http.Client{
			// Timeout bounds each attempt the retry transport makes
			Transport: newRetryTransport(&timeoutTransport{base: base, timeout: timeout}, opts.Transport, opts),
		},
		api:          opts.API,
		headers:      headers,
		metadataPath: opts.MetadataPath,
		logger:       opts.Logger,
	}, nil
}

// Form returns the encoded form body for a page
func (c *Client) Form(page, pageSize int) url.Values {
	form := url.Values{}
	for _, k := range c.api.SortedParams() {
		form.Set(k, c.api.Params[k])
	}
	form.Set(c.api.PageParam, strconv.Itoa(page))
	form.Set(c.api.SizeParam, strconv.Itoa(pageSize))
	return form
}

// FetchPage posts one page query and decodes the result. Errors are
// classified as transient, schema or fatal.
func (c *Client) FetchPage(ctx context.Context, page, pageSize int) (*PageResult, error) {
	body := c.Form(page, pageSize).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.api.Endpoint, strings.NewReader(body))
	if err != nil {
		return nil, errs.Fatal(0, "failed to create request", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    c.api.Endpoint,
		"page":   page,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"url":   c.api.Endpoint,
			"page":  page,
			"error": err.Error(),
		})
		return nil, errs.Transient(0, "network error", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Transient(resp.StatusCode, "failed to read response body", err)
	}
	logger.LogRequest(c.logger, req.Method, c.api.Endpoint, resp.StatusCode, float64(time.Since(start).Milliseconds()))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errs.ClassifyStatus(resp.StatusCode, preview(data))
	}

	result, err := c.decode(data)
	if err != nil {
		if errs.IsFatal(err) {
			c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
				"page":         page,
				"status":       resp.StatusCode,
				"error":        err.Error(),
				"body_preview": preview(data),
			})
		}
		return nil, err
	}
	result.Page = page
	result.PageSize = pageSize
	return result, nil
}

func (c *Client) decode(data []byte) (*PageResult, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, errs.Fatal(0, "invalid JSON", err)
	}
	if doc == nil {
		return nil, errs.Fatal(0, "response is not a JSON object", nil)
	}

	container, err := c.container(doc)
	if err != nil {
		return nil, err
	}

	rawRows, ok := container["rows"]
	if !ok {
		return nil, &errs.SchemaError{Field: "rows"}
	}
	rows := []transform.RawRecord{}
	if rawRows != nil {
		list, ok := rawRows.([]any)
		if !ok {
			return nil, &errs.SchemaError{Field: "rows", Reason: "not an array"}
		}
		rows = make([]transform.RawRecord, 0, len(list))
		for i, item := range list {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, &errs.SchemaError{Field: "rows", Reason: fmt.Sprintf("row %d is not an object", i)}
			}
			rows = append(rows, transform.RawRecord{Fields: obj})
		}
	}

	total, err := totalOf(container)
	if err != nil {
		return nil, err
	}

	result := &PageResult{Total: total, Rows: rows}
	if c.metadataPath != "" {
		meta, ok := transform.LookupMap(doc, c.metadataPath)
		if !ok {
			meta, _ = transform.LookupMap(container, c.metadataPath)
		}
		result.Metadata = transform.SideMetadata(meta)
	}
	return result, nil
}

func (c *Client) container(doc map[string]any) (map[string]any, error) {
	switch c.api.Envelope {
	case EnvelopeNone:
		return doc, nil
	case EnvelopeData:
		data, ok := doc["data"].(map[string]any)
		if !ok {
			return nil, &errs.SchemaError{Field: "data"}
		}
		return data, nil
	default:
		if _, ok := doc["rows"]; ok {
			return doc, nil
		}
		if data, ok := doc["data"].(map[string]any); ok {
			return data, nil
		}
		return doc, nil
	}
}

func totalOf(container map[string]any) (int, error) {
	v, ok := container["total"]
	if !ok || v == nil {
		return 0, &errs.SchemaError{Field: "total"}
	}
	var n int64
	var err error
	switch t := v.(type) {
	case json.Number:
		n, err = t.Int64()
		if err != nil {
			var f float64
			f, err = t.Float64()
			n = int64(f)
		}
	case string:
		n, err = strconv.ParseInt(t, 10, 64)
	default:
		err = fmt.Errorf("unexpected type %T", v)
	}
	if err != nil || n < 0 {
		return 0, &errs.SchemaError{Field: "total", Reason: "not a non-negative integer"}
	}
	return int(n), nil
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > maxBodyPreview {
		s = s[:maxBodyPreview] + "..."
	}
	return s
}

// timeoutTransport bounds a single round trip
type timeoutTransport struct {
	base    http.RoundTripper
	timeout time.Duration
}

func (t *timeoutTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
