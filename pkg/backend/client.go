// Package backend is a client for the Kubelens REST API.
//
// Requests go through a RoundTripper chain: bearer auth, then logging, then
// retry. Only GET and HEAD are retried; mutating calls are sent once.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kubelens/kubelens/pkg/aggregate"
	"github.com/kubelens/kubelens/pkg/k8s"
	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/view"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultRetryBaseDelay = 500 * time.Millisecond
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("kubelens: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("kubelens: %s (HTTP %d)", e.Message, e.StatusCode)
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func IsNotFound(err error) bool     { return statusOf(err) == http.StatusNotFound }
func IsUnauthorized(err error) bool { return statusOf(err) == http.StatusUnauthorized }
func IsConflict(err error) bool     { return statusOf(err) == http.StatusConflict }
func IsForbidden(err error) bool    { return statusOf(err) == http.StatusForbidden }

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	// Timeout bounds each request, 30s when zero
	Timeout time.Duration
	// MaxRetries is the number of retries for GET requests
	MaxRetries     int
	RetryBaseDelay time.Duration
	Logger         *slog.Logger
	// Transport is the innermost RoundTripper, a fresh http.Transport when nil
	Transport http.RoundTripper
}

// Client talks to one Kubelens server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a Client for cfg.BaseURL.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend: server URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: invalid server URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend: unsupported scheme %q", base.Scheme)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retryDelay := cfg.RetryBaseDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryBaseDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "backend")

	var transport http.RoundTripper = cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
		}
	}

	c := &Client{baseURL: base, logger: logger, token: cfg.Token}
	transport = retryTransient(cfg.MaxRetries, retryDelay, transport)
	transport = logRequests(logger, transport)
	transport = bearerAuth(c.Token, transport)
	c.httpClient = &http.Client{Timeout: timeout, Transport: transport}
	return c, nil
}

// Token returns the bearer token in use.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// BaseURL returns the server URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func segments(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

// do sends a request and decodes a JSON response into out. body is encoded
// as JSON unless it is a []byte, which is sent as-is with contentType.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, contentType string, out any) error {
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case []byte:
			reader = bytes.NewReader(b)
		default:
			data, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("backend: encode request: %w", err)
			}
			reader = bytes.NewReader(data)
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return fmt.Errorf("backend: failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer discardBody(resp.Body)

	if resp.StatusCode >= 300 {
		return parseError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if s, ok := out.(*string); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("backend: read response: %w", err)
		}
		*s = string(data)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: failed to decode %d response: %w", resp.StatusCode, err)
	}
	return nil
}

func parseError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// Auth

// SignIn exchanges credentials for a token and starts using it.
func (c *Client) SignIn(ctx context.Context, username, password string) (*models.AuthResponse, error) {
	var out models.AuthResponse
	err := c.do(ctx, http.MethodPost, "/auth/signin", nil, models.SignInRequest{Username: username, Password: password}, "", &out)
	if err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// SignOut revokes the current session and forgets the token.
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/signout", nil, nil, "", nil); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}

// Session returns the signed-in user, session and preferences.
func (c *Client) Session(ctx context.Context) (*models.SessionResponse, error) {
	var out models.SessionResponse
	if err := c.do(ctx, http.MethodGet, "/api/session", nil, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Preferences(ctx context.Context) (*models.Preferences, error) {
	var out models.Preferences
	if err := c.do(ctx, http.MethodGet, "/api/preferences", nil, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SavePreferences(ctx context.Context, prefs *models.Preferences) (*models.Preferences, error) {
	var out models.Preferences
	if err := c.do(ctx, http.MethodPut, "/api/preferences", nil, prefs, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Clusters

type clustersResponse struct {
	Clusters []k8s.ClusterInfo `json:"clusters"`
}

func (c *Client) Clusters(ctx context.Context) ([]k8s.ClusterInfo, error) {
	var out clustersResponse
	if err := c.do(ctx, http.MethodGet, "/api/clusters", nil, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Clusters, nil
}

type namespacesResponse struct {
	Namespaces []string `json:"namespaces"`
}

func (c *Client) Namespaces(ctx context.Context, cluster string) ([]string, error) {
	var out namespacesResponse
	if err := c.do(ctx, http.MethodGet, segments("api", "clusters", cluster, "namespaces"), nil, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Namespaces, nil
}

// Lists

// ListPage is one page of a resource list.
type ListPage struct {
	Items    []models.Object
	Total    int
	Page     int
	PageSize int
	Pages    int
	Clusters []aggregate.Outcome
}

type listEnvelope struct {
	Items    json.RawMessage     `json:"items"`
	Total    int                 `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"pageSize"`
	Pages    int                 `json:"pages"`
	Clusters []aggregate.Outcome `json:"clusters"`
}

func (e *listEnvelope) decode(kind string) (*ListPage, error) {
	items := []models.Object{}
	if len(e.Items) > 0 && string(e.Items) != "null" {
		var err error
		if items, err = models.DecodeList(kind, e.Items); err != nil {
			return nil, fmt.Errorf("backend: %w", err)
		}
	}
	return &ListPage{
		Items: items, Total: e.Total, Page: e.Page, PageSize: e.PageSize, Pages: e.Pages, Clusters: e.Clusters,
	}, nil
}

// QueryValues encodes a view query as list parameters.
func QueryValues(q view.Query) url.Values {
	v := url.Values{}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Namespace != "" {
		v.Set("namespace", q.Namespace)
	}
	if len(q.Clusters) > 0 {
		v.Set("clusters", strings.Join(q.Clusters, ","))
	}
	if q.SortBy != "" {
		v.Set("sort", q.SortBy)
	}
	if q.Desc {
		v.Set("order", "desc")
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	return v
}

func listPath(kind, cluster, namespace string) string {
	if namespace == "" {
		return segments("api", "clusters", cluster, kind)
	}
	return segments("api", "clusters", cluster, "namespaces", namespace, kind)
}

// ListPage fetches one page of kind in one cluster, filtered and sorted by the
// server. An empty namespace lists all namespaces.
func (c *Client) ListPage(ctx context.Context, kind, cluster, namespace string, q view.Query) (*ListPage, error) {
	q.Namespace = ""
	q.Clusters = nil
	var env listEnvelope
	if err := c.do(ctx, http.MethodGet, listPath(kind, cluster, namespace), QueryValues(q), nil, "", &env); err != nil {
		return nil, err
	}
	return env.decode(kind)
}

// List fetches every object of kind in one cluster, following pages.
func (c *Client) List(ctx context.Context, kind, cluster, namespace string) ([]models.Object, error) {
	var items []models.Object
	for page := 1; ; page++ {
		p, err := c.ListPage(ctx, kind, cluster, namespace, view.Query{Page: page, PageSize: view.MaxPageSize})
		if err != nil {
			return nil, err
		}
		items = append(items, p.Items...)
		if page >= p.Pages {
			return items, nil
		}
	}
}

// ListAcross fetches kind from every cluster in parallel and merges the
// results. A cluster that fails contributes no items and is reported in the
// outcomes.
func (c *Client) ListAcross(ctx context.Context, kind string, clusters []string, namespace string) aggregate.Result[models.Object] {
	return aggregate.Collect(ctx, clusters, aggregate.Options{Logger: c.logger}, func(ctx context.Context, cluster string) ([]models.Object, error) {
		return c.List(ctx, kind, cluster, namespace)
	})
}

// Aggregated lets the server fan out across q.Clusters (all clusters when
// empty) and returns one page.
func (c *Client) Aggregated(ctx context.Context, kind string, q view.Query) (*ListPage, error) {
	var env listEnvelope
	if err := c.do(ctx, http.MethodGet, segments("api", "resources", kind), QueryValues(q), nil, "", &env); err != nil {
		return nil, err
	}
	return env.decode(kind)
}

// Objects

func objectPath(ref k8s.ResourceRef, suffix ...string) (string, error) {
	k, err := k8s.LookupKind(ref.Kind)
	if err != nil {
		return "", err
	}
	var parts []string
	if k.Namespaced {
		if ref.Namespace == "" {
			return "", fmt.Errorf("backend: %s requires a namespace", ref.Kind)
		}
		parts = []string{"api", "clusters", ref.Cluster, "namespaces", ref.Namespace, ref.Kind, ref.Name}
	} else {
		parts = []string{"api", "clusters", ref.Cluster, ref.Kind, ref.Name}
	}
	return segments(append(parts, suffix...)...), nil
}

// Detail is a projection together with the full API object.
type Detail struct {
	Object models.Object
	Raw    map[string]any
}

type detailEnvelope struct {
	Object json.RawMessage `json:"object"`
	Raw    map[string]any  `json:"raw"`
}

// Get returns the projection and raw object of ref.
func (c *Client) Get(ctx context.Context, ref k8s.ResourceRef) (*Detail, error) {
	path, err := objectPath(ref)
	if err != nil {
		return nil, err
	}
	var env detailEnvelope
	if err := c.do(ctx, http.MethodGet, path, nil, nil, "", &env); err != nil {
		return nil, err
	}
	obj, err := models.Decode(ref.Kind, env.Object)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	return &Detail{Object: obj, Raw: env.Raw}, nil
}

// GetYAML returns the object as editable YAML.
func (c *Client) GetYAML(ctx context.Context, ref k8s.ResourceRef) (string, error) {
	return c.text(ctx, ref, "yaml")
}

// Describe returns kubectl-style describe output.
func (c *Client) Describe(ctx context.Context, ref k8s.ResourceRef) (string, error) {
	return c.text(ctx, ref, "describe")
}

func (c *Client) text(ctx context.Context, ref k8s.ResourceRef, suffix string) (string, error) {
	path, err := objectPath(ref, suffix)
	if err != nil {
		return "", err
	}
	var out string
	if err := c.do(ctx, http.MethodGet, path, nil, nil, "", &out); err != nil {
		return "", err
	}
	return out, nil
}

func (c *Client) objectCall(ctx context.Context, method string, ref k8s.ResourceRef, body any, contentType string, suffix ...string) (models.Object, error) {
	path, err := objectPath(ref, suffix...)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.do(ctx, method, path, nil, body, contentType, &raw); err != nil {
		return nil, err
	}
	obj, err := models.Decode(ref.Kind, raw)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	return obj, nil
}

// Update replaces ref with manifest, which may be YAML or JSON.
func (c *Client) Update(ctx context.Context, ref k8s.ResourceRef, manifest []byte) (models.Object, error) {
	contentType := "application/yaml"
	if json.Valid(manifest) {
		contentType = "application/json"
	}
	return c.objectCall(ctx, http.MethodPut, ref, manifest, contentType)
}

// Restart triggers a rollout restart.
func (c *Client) Restart(ctx context.Context, ref k8s.ResourceRef) (models.Object, error) {
	return c.objectCall(ctx, http.MethodPost, ref, nil, "", "restart")
}

// Scale sets the replica count.
func (c *Client) Scale(ctx context.Context, ref k8s.ResourceRef, replicas int32) (models.Object, error) {
	return c.objectCall(ctx, http.MethodPost, ref, models.ScaleRequest{Replicas: &replicas}, "", "scale")
}

// Delete removes ref.
func (c *Client) Delete(ctx context.Context, ref k8s.ResourceRef) error {
	path, err := objectPath(ref)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil, "", nil)
}

// PodMetrics returns a pod's current CPU and memory usage.
func (c *Client) PodMetrics(ctx context.Context, cluster, namespace, pod string) (*k8s.PodUsage, error) {
	var out k8s.PodUsage
	path := segments("api", "clusters", cluster, "namespaces", namespace, "pods", pod, "metrics")
	if err := c.do(ctx, http.MethodGet, path, nil, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Notifications

// Notifications returns the newest toasts, at most limit.
func (c *Client) Notifications(ctx context.Context, limit int) ([]models.Notification, error) {
	var out []models.Notification
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if err := c.do(ctx, http.MethodGet, "/api/notifications", q, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/notifications/unread-count", nil, nil, "", &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// MarkNotificationsRead marks the given toasts read, or all of them when ids
// is empty.
func (c *Client) MarkNotificationsRead(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return c.do(ctx, http.MethodPost, "/api/notifications/read-all", nil, nil, "", nil)
	}
	for _, id := range ids {
		if err := c.do(ctx, http.MethodPost, segments("api", "notifications", id.String(), "read"), nil, nil, "", nil); err != nil {
			return err
		}
	}
	return nil
}
