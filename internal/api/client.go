// Package api is the HTTP client of the Helium backend: REST calls, uploads,
// downloads and the server-sent case event stream.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrNotFound matches a *StatusError carrying HTTP 404.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx answer of the backend.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, body)
}

// Is lets errors.Is(err, ErrNotFound) match 404 answers.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Observer receives per-request measurements.
type Observer interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(d time.Duration)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RateLimit is the sustained number of requests per second. Zero disables limiting.
	RateLimit float64
	Burst     int
	Logger    *log.Logger
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	Observer   Observer
}

// Client talks to one Helium server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	streamHTTP *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
	observer   Observer
}

// New builds a client. BaseURL must be an absolute http(s) URL.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid api url %q: scheme must be http or https", opts.BaseURL)
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	var transport http.RoundTripper = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     30 * time.Second,
	}
	if opts.HTTPClient != nil {
		transport = opts.HTTPClient.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
	}

	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		token:   opts.Token,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		// The event stream stays open for the lifetime of a case view.
		streamHTTP: &http.Client{Transport: transport},
		logger:     opts.Logger,
		observer:   opts.Observer,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c, nil
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "helium-console/1.0")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// do sends req and turns non-2xx answers into *StatusError. The caller closes the body.
func (c *Client) do(hc *http.Client, req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := hc.Do(req)
	if c.observer != nil {
		c.observer.RecordRequestLatency(time.Since(start))
		if err == nil {
			c.observer.RecordHTTPStatus(resp.StatusCode)
		}
	}
	if err != nil {
		c.logger.Printf("%s %s failed: %v", req.Method, req.URL.Path, err)
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	c.logger.Printf("%s %s -> %d (request %s)", req.Method, req.URL.Path, resp.StatusCode, req.Header.Get("X-Request-ID"))
	return nil, &StatusError{Method: req.Method, Path: req.URL.Path, Code: resp.StatusCode, Body: string(data)}
}

// call sends in as JSON (when non-nil) and decodes the answer into out (when non-nil).
func (c *Client) call(ctx context.Context, method, p string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, p, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.do(c.httpClient, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrap(data), out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, p, err)
	}
	return nil
}

// unwrap returns the content of a {"data": ...} envelope, or the body itself
// when the server answered without one.
func unwrap(data []byte) []byte {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return data
	}
	if inner, ok := env["data"]; ok {
		return inner
	}
	return data
}

// download streams the body of a GET to w and returns the suggested file name.
func (c *Client) download(ctx context.Context, p, fallback string, w io.Writer) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, p, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "*/*")
	resp, err := c.do(c.streamHTTP, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("failed to download %s: %w", p, err)
	}
	return filenameFrom(resp.Header.Get("Content-Disposition"), fallback), nil
}

func filenameFrom(disposition, fallback string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := path.Base(params["filename"]); name != "" && name != "." && name != "/" {
				return name
			}
		}
	}
	return fallback
}

func casePath(caseGUID string, parts ...string) string {
	var b strings.Builder
	b.WriteString("/api/cases/")
	b.WriteString(url.PathEscape(caseGUID))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

// GetCase fetches case metadata.
func (c *Client) GetCase(ctx context.Context, id string) (helium.CaseMetadata, error) {
	var meta helium.CaseMetadata
	err := c.call(ctx, http.MethodGet, casePath(id), nil, &meta)
	return meta, err
}

// PutCase applies a partial update to a case.
func (c *Client) PutCase(ctx context.Context, caseGUID string, patch helium.CasePatch) (helium.CaseMetadata, error) {
	var meta helium.CaseMetadata
	err := c.call(ctx, http.MethodPut, casePath(caseGUID), patch, &meta)
	return meta, err
}

// DeleteCase deletes a case.
func (c *Client) DeleteCase(ctx context.Context, caseGUID string) error {
	return c.call(ctx, http.MethodDelete, casePath(caseGUID), nil, nil)
}

// GetCaseCollectors lists the collectors of a case.
func (c *Client) GetCaseCollectors(ctx context.Context, caseGUID string) ([]helium.Collector, error) {
	var out []helium.Collector
	err := c.call(ctx, http.MethodGet, casePath(caseGUID, "collectors"), nil, &out)
	return out, err
}

// PostCaseCollector creates a collector.
func (c *Client) PostCaseCollector(ctx context.Context, caseGUID string, col helium.Collector) (helium.Collector, error) {
	var out helium.Collector
	err := c.call(ctx, http.MethodPost, casePath(caseGUID, "collectors"), col, &out)
	return out, err
}

// ImportCaseCollector imports a collector built elsewhere.
func (c *Client) ImportCaseCollector(ctx context.Context, caseGUID string, col helium.Collector) (helium.Collector, error) {
	var out helium.Collector
	err := c.call(ctx, http.MethodPost, casePath(caseGUID, "collectors", "import"), col, &out)
	return out, err
}

// DeleteCollector deletes a collector.
func (c *Client) DeleteCollector(ctx context.Context, caseGUID, collectorGUID string) error {
	return c.call(ctx, http.MethodDelete, casePath(caseGUID, "collectors", collectorGUID), nil, nil)
}

// DownloadCollector writes the collector package to w.
func (c *Client) DownloadCollector(ctx context.Context, caseGUID, collectorGUID string, w io.Writer) (string, error) {
	return c.download(ctx, casePath(caseGUID, "collectors", collectorGUID, "download"), collectorGUID+".zip", w)
}

// GetCaseCollections lists the collections of a case.
func (c *Client) GetCaseCollections(ctx context.Context, caseGUID string) ([]helium.Collection, error) {
	var out []helium.Collection
	err := c.call(ctx, http.MethodGet, casePath(caseGUID, "collections"), nil, &out)
	return out, err
}

// PutCaseCollection updates collection metadata.
func (c *Client) PutCaseCollection(ctx context.Context, caseGUID string, col helium.Collection) (helium.Collection, error) {
	var out helium.Collection
	err := c.call(ctx, http.MethodPut, casePath(caseGUID, "collections", col.GUID), col, &out)
	return out, err
}

// DeleteCollection deletes a collection.
func (c *Client) DeleteCollection(ctx context.Context, caseGUID, collectionGUID string) error {
	return c.call(ctx, http.MethodDelete, casePath(caseGUID, "collections", collectionGUID), nil, nil)
}

// DownloadCollection writes the collection archive to w.
func (c *Client) DownloadCollection(ctx context.Context, caseGUID, collectionGUID string, w io.Writer) (string, error) {
	return c.download(ctx, casePath(caseGUID, "collections", collectionGUID, "download"), collectionGUID+".zip", w)
}

// RemoveCache drops the server-side cache of a collection.
func (c *Client) RemoveCache(ctx context.Context, caseGUID, collectionGUID string) error {
	return c.call(ctx, http.MethodDelete, casePath(caseGUID, "collections", collectionGUID, "cache"), nil, nil)
}

// GetCollectionAnalyses lists the analyses of a collection.
func (c *Client) GetCollectionAnalyses(ctx context.Context, caseGUID, collectionGUID string) ([]helium.CollectionAnalysis, error) {
	var out []helium.CollectionAnalysis
	err := c.call(ctx, http.MethodGet, casePath(caseGUID, "collections", collectionGUID, "analyses"), nil, &out)
	return out, err
}

// PostCollectionAnalysis starts an analyzer on a collection.
func (c *Client) PostCollectionAnalysis(ctx context.Context, caseGUID, collectionGUID string, a helium.CollectionAnalysis) (helium.CollectionAnalysis, error) {
	var out helium.CollectionAnalysis
	err := c.call(ctx, http.MethodPost, casePath(caseGUID, "collections", collectionGUID, "analyses"), a, &out)
	return out, err
}

// PutCollectionAnalysis restarts an analysis.
func (c *Client) PutCollectionAnalysis(ctx context.Context, caseGUID, collectionGUID, analyzer string) (helium.CollectionAnalysis, error) {
	var out helium.CollectionAnalysis
	err := c.call(ctx, http.MethodPut, casePath(caseGUID, "collections", collectionGUID, "analyses", analyzer), nil, &out)
	return out, err
}

// DeleteCollectionAnalysis deletes an analysis and its results.
func (c *Client) DeleteCollectionAnalysis(ctx context.Context, caseGUID, collectionGUID, analyzer string) error {
	return c.call(ctx, http.MethodDelete, casePath(caseGUID, "collections", collectionGUID, "analyses", analyzer), nil, nil)
}

// DownloadCollectionAnalysis writes the analysis results to w.
func (c *Client) DownloadCollectionAnalysis(ctx context.Context, caseGUID, collectionGUID, analyzer string, w io.Writer) (string, error) {
	p := casePath(caseGUID, "collections", collectionGUID, "analyses", analyzer, "download")
	return c.download(ctx, p, analyzer+".zip", w)
}

// GetCollectionAnalysisLog returns the log of an analysis as text.
func (c *Client) GetCollectionAnalysisLog(ctx context.Context, caseGUID, collectionGUID, analyzer string) (string, error) {
	p := casePath(caseGUID, "collections", collectionGUID, "analyses", analyzer, "log")
	req, err := c.newRequest(ctx, http.MethodGet, p, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain, application/json")
	resp, err := c.do(c.httpClient, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read analysis log: %w", err)
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var s string
		if err := json.Unmarshal(unwrap(data), &s); err == nil {
			return s, nil
		}
	}
	return string(data), nil
}

// GetDiskUsage returns storage usage per case.
func (c *Client) GetDiskUsage(ctx context.Context) (helium.DiskUsage, error) {
	var out helium.DiskUsage
	err := c.call(ctx, http.MethodGet, "/api/disk_usage", nil, &out)
	return out, err
}

// GetAnalyzerInfos lists the analyzers known to the server.
func (c *Client) GetAnalyzerInfos(ctx context.Context) ([]helium.AnalyzerInfo, error) {
	var out []helium.AnalyzerInfo
	err := c.call(ctx, http.MethodGet, "/api/analyzers", nil, &out)
	return out, err
}
