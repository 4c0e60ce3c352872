package cloudapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jamesprial/zone-migrate/internal/config"
)

const defaultTimeout = 30 * time.Second

// ErrNotFound is returned when the directory has no record for the queried
// VM or node.
var ErrNotFound = errors.New("cloudapi: not found")

// HTTPClient is a concrete implementation of the Client interface that talks
// to the control plane's REST directory over HTTP using the standard library
// net/http package.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHTTPClient constructs an HTTPClient from the provided CloudAPIConfig.
// It returns an error if cfg.URL is empty. When cfg.Timeout is zero or
// negative, a default timeout of 30 seconds is used.
func NewHTTPClient(cfg config.CloudAPIConfig) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("cloudapi: URL is required")
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if cfg.Timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
	}, nil
}

// get performs a GET against path and decodes the JSON response body into out.
// A 404 maps to ErrNotFound; any other non-2xx status is an error carrying
// the status code.
func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("cloudapi: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cloudapi: request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("cloudapi: GET %s: %w", path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("cloudapi: GET %s: unexpected HTTP status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cloudapi: decode response for %s: %w", path, err)
	}
	return nil
}

// GetVM looks a VM up by uuid.
func (c *HTTPClient) GetVM(ctx context.Context, uuid string) (*VM, error) {
	var vm VM
	if err := c.get(ctx, "/vms/"+url.PathEscape(uuid), &vm); err != nil {
		return nil, err
	}
	return &vm, nil
}

// GetNode looks a node up by uuid.
func (c *HTTPClient) GetNode(ctx context.Context, uuid string) (*Node, error) {
	var node Node
	if err := c.get(ctx, "/servers/"+url.PathEscape(uuid), &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// FindNodeByHostname looks a node up by hostname. The directory returns a
// list; an empty list maps to ErrNotFound.
func (c *HTTPClient) FindNodeByHostname(ctx context.Context, hostname string) (*Node, error) {
	var nodes []Node
	path := "/servers?hostname=" + url.QueryEscape(hostname)
	if err := c.get(ctx, path, &nodes); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("cloudapi: server %q: %w", hostname, ErrNotFound)
	}
	return &nodes[0], nil
}
