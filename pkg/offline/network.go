package offline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultNetworkTimeout = 15 * time.Second
	maxResponseBody       = 32 << 20
)

// Request is a fetch issued by the application shell. URL is the
// origin-relative path including any query string.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	FromCache bool
}

// Network performs real fetches against the origin.
type Network interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// HTTPNetwork resolves request paths against a base URL.
type HTTPNetwork struct {
	base   *url.URL
	client *http.Client
}

func NewHTTPNetwork(baseURL string, client *http.Client) (*HTTPNetwork, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("origin url %q must be http or https", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultNetworkTimeout}
	}

	return &HTTPNetwork{base: base, client: client}, nil
}

// Resolve returns the absolute URL for an origin-relative path.
func (n *HTTPNetwork) Resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse request url: %w", err)
	}
	return n.base.ResolveReference(ref).String(), nil
}

func (n *HTTPNetwork) Do(ctx context.Context, req Request) (Response, error) {
	target, err := n.Resolve(req.URL)
	if err != nil {
		return Response{}, WrapError(ErrorFetchFailed, req.URL, err)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return Response{}, WrapError(ErrorFetchFailed, req.URL, err)
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return Response{}, WrapError(ErrorFetchFailed, req.URL, err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Response{}, WrapError(ErrorFetchFailed, req.URL, err)
	}

	return Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: content}, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
