package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"subsidy-esign/internal/common/auth"
)

type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithHTTPClient wraps an existing client, e.g. an httptest server's.
func WithHTTPClient(hc *http.Client) *Client {
	return &Client{httpClient: hc}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	return c.httpClient.Do(req)
}

// HTTPClient exposes the underlying client for libraries that need one.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Request describes one call made through an APIClient.
type Request struct {
	Method      string
	Path        string // relative to the base URL, or absolute
	Body        io.Reader
	ContentType string
	Header      http.Header
	// Anonymous skips the bearer token, for pre-authorized URLs.
	Anonymous bool
}

// APIClient issues bearer-authenticated calls against one REST API. It never
// retries; a 401 drops the cached token so the next call re-authenticates.
type APIClient struct {
	client  *Client
	baseURL string
	creds   auth.CredentialProvider
}

func NewAPIClient(client *Client, baseURL string, creds auth.CredentialProvider) *APIClient {
	return &APIClient{client: client, baseURL: strings.TrimSuffix(baseURL, "/"), creds: creds}
}

func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// Send performs the request. Transport failures and credential failures are
// returned as errors; any HTTP status is returned as a Response.
func (c *APIClient) Send(ctx context.Context, r Request) (*Response, error) {
	target := r.Path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + "/" + strings.TrimPrefix(target, "/")
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if !r.Anonymous {
		token, err := c.creds.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized && !r.Anonymous {
		c.creds.Invalidate(ctx)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// JSON sends in as a JSON body (when non-nil) and decodes a 2xx body into out
// (when non-nil).
func (c *APIClient) JSON(ctx context.Context, method, path string, in, out interface{}) (*Response, error) {
	r := Request{Method: method, Path: path}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		r.Body = bytes.NewReader(payload)
		r.ContentType = "application/json"
	}

	resp, err := c.Send(ctx, r)
	if err != nil {
		return nil, err
	}
	if resp.OK() && out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp, nil
}
