package platform

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrNotFound is returned when a looked-up object does not exist.
var ErrNotFound = errors.New("object not found in data model")

// Model is the read-only object registry the checks consume. Every call
// fetches fresh data; nothing is cached between checks.
type Model interface {
	StorageRouters(ctx context.Context) ([]StorageRouter, error)
	Domains(ctx context.Context) ([]Domain, error)
	VPools(ctx context.Context) ([]VPool, error)
	VDisks(ctx context.Context, vpoolGUID string) ([]VDisk, error)
	Services(ctx context.Context, storageRouterGUID string) ([]Service, error)
	AlbaBackends(ctx context.Context) ([]AlbaBackend, error)
	PresetAvailable(ctx context.Context, backendGUID, preset string) (bool, error)
	NSMLoad(ctx context.Context, backendGUID, cluster string) (float64, error)
}

// LocalStorageRouter returns the storage router of nodeID.
func LocalStorageRouter(ctx context.Context, m Model, nodeID string) (StorageRouter, error) {
	srs, err := m.StorageRouters(ctx)
	if err != nil {
		return StorageRouter{}, err
	}
	for _, sr := range srs {
		if sr.NodeID == nodeID {
			return sr, nil
		}
	}
	return StorageRouter{}, fmt.Errorf("%w: storage router for node %s", ErrNotFound, nodeID)
}

// RetryableError wraps an error that can be retried.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string     { return e.Err.Error() }
func (e *RetryableError) Unwrap() error     { return e.Err }
func (e *RetryableError) IsRetryable() bool { return true }

// NewRetryableError creates a new retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err}
}

// APIError represents an HTTP error from a platform API.
type APIError struct {
	StatusCode int
	Body       string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d from %s: %s", e.StatusCode, e.Endpoint, e.Body)
}

func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// HTTPConfig configures an API client.
type HTTPConfig struct {
	BaseURL  string
	Token    string
	User     string
	Password string
	Insecure bool
	Timeout  time.Duration
	RetryMax int
}

// apiClient is the shared GET plumbing of the platform and bus clients.
type apiClient struct {
	cfg    HTTPConfig
	client *retryablehttp.Client
}

func newAPIClient(cfg HTTPConfig) *apiClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 3
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = slog.Default()
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.HTTPClient = &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.Insecure}, //nolint:gosec // self-signed platform certificates
		},
		Timeout: cfg.Timeout,
	}
	return &apiClient{cfg: cfg, client: rc}
}

func (a *apiClient) get(ctx context.Context, path string) ([]byte, error) {
	u := strings.TrimRight(a.cfg.BaseURL, "/") + path
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case a.cfg.Token != "":
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	case a.cfg.User != "":
		req.SetBasicAuth(a.cfg.User, a.cfg.Password)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, NewRetryableError(fmt.Errorf("requesting %s: %w", path, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20)) // 10 MB max
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Endpoint:   path,
		}
	}
	return body, nil
}

// envelope wraps the platform API response.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

func (a *apiClient) getData(ctx context.Context, path string, dst any) error {
	body, err := a.get(ctx, path)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("parsing response from %s: %w", path, err)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("parsing response from %s: missing data", path)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// Client reads the data model over the platform REST API.
type Client struct {
	api *apiClient
}

// NewClient returns a client for the API at cfg.BaseURL.
func NewClient(cfg HTTPConfig) *Client {
	return &Client{api: newAPIClient(cfg)}
}

func (c *Client) StorageRouters(ctx context.Context) ([]StorageRouter, error) {
	var out []StorageRouter
	if err := c.api.getData(ctx, "/storagerouters", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Domains(ctx context.Context) ([]Domain, error) {
	var out []Domain
	if err := c.api.getData(ctx, "/domains", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) VPools(ctx context.Context) ([]VPool, error) {
	var out []VPool
	if err := c.api.getData(ctx, "/vpools", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) VDisks(ctx context.Context, vpoolGUID string) ([]VDisk, error) {
	var out []VDisk
	if err := c.api.getData(ctx, "/vpools/"+url.PathEscape(vpoolGUID)+"/vdisks", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Services(ctx context.Context, storageRouterGUID string) ([]Service, error) {
	var out []Service
	if err := c.api.getData(ctx, "/storagerouters/"+url.PathEscape(storageRouterGUID)+"/services", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AlbaBackends(ctx context.Context) ([]AlbaBackend, error) {
	var out []AlbaBackend
	if err := c.api.getData(ctx, "/alba/backends", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PresetAvailable(ctx context.Context, backendGUID, preset string) (bool, error) {
	var out struct {
		IsAvailable bool `json:"is_available"`
	}
	path := "/alba/backends/" + url.PathEscape(backendGUID) + "/presets/" + url.PathEscape(preset)
	if err := c.api.getData(ctx, path, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return false, fmt.Errorf("%w: preset %s", ErrNotFound, preset)
		}
		return false, err
	}
	return out.IsAvailable, nil
}

func (c *Client) NSMLoad(ctx context.Context, backendGUID, cluster string) (float64, error) {
	var out struct {
		Load float64 `json:"load"`
	}
	path := "/alba/backends/" + url.PathEscape(backendGUID) + "/nsm_clusters/" + url.PathEscape(cluster) + "/load"
	if err := c.api.getData(ctx, path, &out); err != nil {
		return 0, err
	}
	return out.Load, nil
}
