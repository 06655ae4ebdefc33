// Package rest is a rowstore client for a PostgREST endpoint such as the one
// a hosted supabase project exposes under /rest/v1.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"medeasy/pharmacy/internal/rowstore"
)

// Client issues rowstore requests over HTTP.
type Client struct {
	base       *url.URL
	apiKey     string
	schema     string
	http       *http.Client
	logger     *log.Logger
	logQueries bool
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithSchema selects a non-default schema through the profile headers.
func WithSchema(schema string) Option {
	return func(c *Client) { c.schema = schema }
}

// WithTimeout bounds each request, including reading the body.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithQueryLog(on bool) Option {
	return func(c *Client) { c.logQueries = on }
}

// New returns a client for the project at baseURL authenticated with apiKey.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid rowstore url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid rowstore url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:   u,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do sends req and decodes the reply.
func (c *Client) Do(ctx context.Context, req *rowstore.Request) (*rowstore.Response, error) {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}
	if c.logQueries {
		c.logger.Printf("[REST] %s %s", httpReq.Method, httpReq.URL.RequestURI())
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rowstore request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rowstore response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, decodeError(res.StatusCode, body)
	}

	if req.CountOnly {
		count, err := parseCount(res.Header.Get("Content-Range"))
		if err != nil {
			return nil, err
		}
		return &rowstore.Response{Rows: []rowstore.Row{}, Count: count}, nil
	}

	var rows []rowstore.Row
	if len(bytes.TrimSpace(body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&rows); err != nil {
			return nil, fmt.Errorf("failed to decode rowstore response: %w", err)
		}
	}
	rows, err = rowstore.CheckCardinality(req, rows)
	if err != nil {
		return nil, err
	}
	return &rowstore.Response{Rows: rows, Count: len(rows)}, nil
}

func (c *Client) build(ctx context.Context, req *rowstore.Request) (*http.Request, error) {
	u := *c.base
	u.Path += "/rest/v1/" + url.PathEscape(req.Table)
	u.RawQuery = query(req).Encode()

	var (
		method string
		body   io.Reader
	)
	switch req.Method {
	case rowstore.MethodSelect:
		method = http.MethodGet
		if req.CountOnly {
			method = http.MethodHead
		}
	case rowstore.MethodInsert:
		method = http.MethodPost
		b, err := json.Marshal(req.Values)
		if err != nil {
			return nil, fmt.Errorf("failed to encode insert payload: %w", err)
		}
		body = bytes.NewReader(b)
	case rowstore.MethodUpdate:
		method = http.MethodPatch
		var values rowstore.Row
		if len(req.Values) > 0 {
			values = req.Values[0]
		}
		b, err := json.Marshal(values)
		if err != nil {
			return nil, fmt.Errorf("failed to encode update payload: %w", err)
		}
		body = bytes.NewReader(b)
	case rowstore.MethodDelete:
		method = http.MethodDelete
	default:
		return nil, fmt.Errorf("unsupported method %s", req.Method)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build rowstore request: %w", err)
	}
	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.schema != "" {
		httpReq.Header.Set("Accept-Profile", c.schema)
		if body != nil || method == http.MethodDelete {
			httpReq.Header.Set("Content-Profile", c.schema)
		}
	}

	var prefer []string
	if req.Method != rowstore.MethodSelect {
		if req.ReturnRows {
			prefer = append(prefer, "return=representation")
		} else {
			prefer = append(prefer, "return=minimal")
		}
	}
	if req.CountOnly {
		prefer = append(prefer, "count=exact")
	}
	if len(prefer) > 0 {
		httpReq.Header.Set("Prefer", strings.Join(prefer, ","))
	}
	return httpReq, nil
}

func query(req *rowstore.Request) url.Values {
	q := url.Values{}
	if req.Method == rowstore.MethodSelect || req.ReturnRows {
		q.Set("select", strings.Join(strings.Fields(req.Columns), ""))
	}
	for _, f := range req.Filters {
		q.Add(f.Column, filterValue(f))
	}
	if o := req.Ordering; o != nil {
		dir := "desc"
		if o.Ascending {
			dir = "asc"
		}
		q.Set("order", o.Column+"."+dir)
	}
	if offset, limit := req.Pagination(); limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
		if offset > 0 {
			q.Set("offset", strconv.Itoa(offset))
		}
	}
	return q
}

func filterValue(f rowstore.Filter) string {
	if f.Value == nil && f.Op == rowstore.OpEq {
		return "is.null"
	}
	var v string
	switch x := f.Value.(type) {
	case time.Time:
		v = x.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		v = x.UTC().Format(time.RFC3339Nano)
	default:
		v = fmt.Sprint(x)
	}
	if f.Op == rowstore.OpILike {
		// PostgREST accepts * for % so patterns survive URL encoding untouched.
		v = strings.ReplaceAll(v, "%", "*")
	}
	return string(f.Op) + "." + v
}

func parseCount(contentRange string) (int, error) {
	_, total, ok := strings.Cut(contentRange, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("rowstore response has no exact count (Content-Range %q)", contentRange)
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("invalid Content-Range %q: %w", contentRange, err)
	}
	return n, nil
}

func decodeError(status int, body []byte) error {
	e := &rowstore.Error{}
	if err := json.Unmarshal(body, e); err != nil || (e.Message == "" && e.Code == "") {
		e = &rowstore.Error{Message: strings.TrimSpace(string(body))}
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
	}
	e.Status = status
	return e
}
