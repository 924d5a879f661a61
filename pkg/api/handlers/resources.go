package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kubelens/kubelens/pkg/aggregate"
	"github.com/kubelens/kubelens/pkg/api/middleware"
	"github.com/kubelens/kubelens/pkg/k8s"
	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/notify"
	"github.com/kubelens/kubelens/pkg/poller"
	"github.com/kubelens/kubelens/pkg/view"
)

// ResourcePoller keeps multi-cluster lists fresh.
type ResourcePoller = poller.Poller[aggregate.Result[models.Object]]

// ResourceKeyPrefix prefixes every poller key of a kind.
func ResourceKeyPrefix(kind string) string {
	return "resources/" + kind + "?"
}

// ResourceHandlers serves resource lists and actions.
type ResourceHandlers struct {
	k8sClient *k8s.MultiClusterClient
	poller    *ResourcePoller
	toaster   *notify.Toaster
	logger    *slog.Logger
}

// NewResourceHandlers creates resource handlers. poller and toaster may be nil;
// without a poller every aggregated list is fetched on demand.
func NewResourceHandlers(k8sClient *k8s.MultiClusterClient, p *ResourcePoller, toaster *notify.Toaster) *ResourceHandlers {
	return &ResourceHandlers{
		k8sClient: k8sClient,
		poller:    p,
		toaster:   toaster,
		logger:    slog.Default().With("component", "resources"),
	}
}

// ListResponse is one page of a resource list plus the per-cluster outcomes.
type ListResponse struct {
	view.Page[models.Object]
	Clusters []aggregate.Outcome `json:"clusters"`
}

// parseQuery reads the list parameters of a request.
func parseQuery(c *fiber.Ctx) (view.Query, error) {
	q := view.Query{
		Search:    c.Query("search"),
		Namespace: c.Query("namespace"),
		Status:    c.Query("status"),
		SortBy:    c.Query("sort"),
		Page:      c.QueryInt("page", 1),
		PageSize:  c.QueryInt("pageSize", view.DefaultPageSize),
	}
	switch c.Query("order") {
	case "", "asc":
	case "desc":
		q.Desc = true
	default:
		return q, fiber.NewError(fiber.StatusBadRequest, "order must be asc or desc")
	}
	for _, name := range strings.Split(c.Query("clusters"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			q.Clusters = append(q.Clusters, name)
		}
	}
	return q, nil
}

func (h *ResourceHandlers) kindParam(c *fiber.Ctx) (k8s.Kind, error) {
	if h.k8sClient == nil {
		return k8s.Kind{}, errNoClusterAccess
	}
	return k8s.LookupKind(c.Params("resource"))
}

// ListInCluster returns one page of a kind in one cluster
// GET /api/clusters/:cluster/:resource
// GET /api/clusters/:cluster/namespaces/:namespace/:resource
func (h *ResourceHandlers) ListInCluster(c *fiber.Ctx) error {
	k, err := h.kindParam(c)
	if err != nil {
		return err
	}
	q, err := parseQuery(c)
	if err != nil {
		return err
	}
	cluster := c.Params("cluster")
	namespace := c.Params("namespace")
	if namespace != "" && !k.Namespaced {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s are cluster-scoped", k.Name))
	}
	if namespace == "" && k.Namespaced {
		namespace = q.Namespace
	}

	items, err := h.k8sClient.List(c.UserContext(), k.Name, cluster, namespace)
	if err != nil {
		return err
	}
	q.Clusters, q.Namespace = nil, ""
	return c.JSON(ListResponse{
		Page:     view.Apply(items, q),
		Clusters: []aggregate.Outcome{{Cluster: cluster, Count: len(items)}},
	})
}

// collectGrace is added to the cluster timeout when waiting for a polled list.
const collectGrace = 5 * time.Second

// targetClusters returns the clusters to query, either the requested ones or
// every known cluster, plus outcomes for the clusters the health cache
// reports offline. Offline clusters are not queried.
func (h *ResourceHandlers) targetClusters(ctx context.Context, requested []string) ([]string, []aggregate.Outcome, error) {
	healthy, offline, err := h.k8sClient.HealthyClusters(ctx)
	if err != nil {
		return nil, nil, err
	}
	down := make(map[string]string, len(offline))
	for _, info := range offline {
		down[info.Name] = info.ErrorType
	}

	names := append([]string(nil), requested...)
	if len(names) == 0 {
		for _, info := range healthy {
			names = append(names, info.Name)
		}
		for _, info := range offline {
			names = append(names, info.Name)
		}
	}
	sort.Strings(names)

	var (
		query   []string
		skipped []aggregate.Outcome
	)
	for _, name := range names {
		if errorType, ok := down[name]; ok {
			skipped = append(skipped, aggregate.Offline(name, errorType))
			continue
		}
		query = append(query, name)
	}
	return query, skipped, nil
}

// pollKey identifies one polled multi-cluster list.
func pollKey(kind string, clusters []string, namespace string) string {
	return fmt.Sprintf("%sclusters=%s&namespace=%s", ResourceKeyPrefix(kind), strings.Join(clusters, ","), namespace)
}

func (h *ResourceHandlers) collect(ctx context.Context, kind string, clusters []string, namespace string) (aggregate.Result[models.Object], error) {
	if len(clusters) == 0 {
		return aggregate.Result[models.Object]{}, nil
	}
	if h.poller == nil {
		return h.k8sClient.ListAll(ctx, kind, clusters, namespace)
	}
	key := pollKey(kind, clusters, namespace)
	h.poller.Subscribe(key, func(ctx context.Context) (aggregate.Result[models.Object], error) {
		return h.k8sClient.ListAll(ctx, kind, clusters, namespace)
	})

	waitCtx, cancel := context.WithTimeout(ctx, h.k8sClient.ClusterTimeout()+collectGrace)
	defer cancel()
	snap, err := h.poller.Wait(waitCtx, key)
	if errors.Is(err, context.DeadlineExceeded) {
		h.logger.Warn("no polled result in time", "key", key)
		return aggregate.Result[models.Object]{}, fiber.NewError(fiber.StatusServiceUnavailable, "Timed out waiting for cluster data")
	}
	if err != nil {
		return aggregate.Result[models.Object]{}, err
	}
	return snap.Value, snap.Err
}

// withOffline adds the outcomes of skipped clusters, keeping cluster order.
func withOffline(outcomes, offline []aggregate.Outcome) []aggregate.Outcome {
	merged := make([]aggregate.Outcome, 0, len(outcomes)+len(offline))
	merged = append(merged, outcomes...)
	merged = append(merged, offline...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Cluster < merged[j].Cluster })
	return merged
}

// ListAggregated merges a kind across clusters and runs the list pipeline
// GET /api/resources/:resource?clusters=a,b
func (h *ResourceHandlers) ListAggregated(c *fiber.Ctx) error {
	k, err := h.kindParam(c)
	if err != nil {
		return err
	}
	q, err := parseQuery(c)
	if err != nil {
		return err
	}
	clusters, offline, err := h.targetClusters(c.UserContext(), q.Clusters)
	if err != nil {
		return err
	}
	namespace := ""
	if k.Namespaced {
		namespace = q.Namespace
	}

	result, err := h.collect(c.UserContext(), k.Name, clusters, namespace)
	if err != nil {
		return err
	}
	for _, failed := range result.Failed() {
		h.logger.Warn("cluster fetch failed", "kind", k.Name, "cluster", failed.Cluster, "errorType", failed.ErrorType, "error", failed.Error)
	}

	q.Clusters = nil
	return c.JSON(ListResponse{
		Page:     view.Apply(result.Items, q),
		Clusters: withOffline(result.Outcomes, offline),
	})
}

func (h *ResourceHandlers) ref(c *fiber.Ctx) (k8s.ResourceRef, error) {
	k, err := h.kindParam(c)
	if err != nil {
		return k8s.ResourceRef{}, err
	}
	ref := k8s.ResourceRef{
		Cluster:   c.Params("cluster"),
		Kind:      k.Name,
		Namespace: c.Params("namespace"),
		Name:      c.Params("name"),
	}
	if k.Namespaced != (ref.Namespace != "") {
		if k.Namespaced {
			return ref, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s require a namespace", k.Name))
		}
		return ref, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s are cluster-scoped", k.Name))
	}
	return ref, nil
}

// Get returns the projection and raw object
// GET .../:resource/:name
func (h *ResourceHandlers) Get(c *fiber.Ctx) error {
	ref, err := h.ref(c)
	if err != nil {
		return err
	}
	detail, err := h.k8sClient.Get(c.UserContext(), ref)
	if err != nil {
		return err
	}
	return c.JSON(detail)
}

// GetYAML returns the object as editable YAML
// GET .../:resource/:name/yaml
func (h *ResourceHandlers) GetYAML(c *fiber.Ctx) error {
	ref, err := h.ref(c)
	if err != nil {
		return err
	}
	out, err := h.k8sClient.GetYAML(c.UserContext(), ref)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "application/yaml; charset=utf-8")
	return c.SendString(out)
}

// Describe returns kubectl describe output
// GET .../:resource/:name/describe
func (h *ResourceHandlers) Describe(c *fiber.Ctx) error {
	ref, err := h.ref(c)
	if err != nil {
		return err
	}
	out, err := h.k8sClient.Describe(c.UserContext(), ref)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(out)
}

// act runs a resource action and reports it as a toast. Successful actions
// refresh the polled lists of the kind.
func (h *ResourceHandlers) act(c *fiber.Ctx, action string, run func(ctx context.Context, ref k8s.ResourceRef) (models.Object, string, error)) error {
	ref, err := h.ref(c)
	if err != nil {
		return err
	}

	obj, detail, err := run(c.UserContext(), ref)
	if h.toaster != nil {
		h.toaster.ActionResult(middleware.GetUserID(c), action, ref.String(), detail, err)
	}
	if err != nil {
		h.logger.Warn("resource action failed", "action", action, "resource", ref.String(), "user", middleware.GetUsername(c), "error", err)
		return err
	}
	h.logger.Info("resource action", "action", action, "resource", ref.String(), "user", middleware.GetUsername(c))

	if h.poller != nil {
		h.poller.Invalidate(ResourceKeyPrefix(ref.Kind))
	}
	if obj == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(obj)
}

// Update replaces an object from a YAML or JSON body
// PUT .../:resource/:name
func (h *ResourceHandlers) Update(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)
	return h.act(c, notify.ActionUpdate, func(ctx context.Context, ref k8s.ResourceRef) (models.Object, string, error) {
		if len(strings.TrimSpace(string(body))) == 0 {
			return nil, "", fmt.Errorf("%w: empty manifest", k8s.ErrInvalidInput)
		}
		obj, err := h.k8sClient.Update(ctx, ref, body)
		return obj, "", err
	})
}

// Restart performs a rollout restart
// POST .../:resource/:name/restart
func (h *ResourceHandlers) Restart(c *fiber.Ctx) error {
	return h.act(c, notify.ActionRestart, func(ctx context.Context, ref k8s.ResourceRef) (models.Object, string, error) {
		obj, err := h.k8sClient.Restart(ctx, ref)
		return obj, "", err
	})
}

// Scale sets the replica count
// POST .../:resource/:name/scale
func (h *ResourceHandlers) Scale(c *fiber.Ctx) error {
	var req models.ScaleRequest
	parseErr := c.BodyParser(&req)
	return h.act(c, notify.ActionScale, func(ctx context.Context, ref k8s.ResourceRef) (models.Object, string, error) {
		if parseErr != nil {
			return nil, "", fmt.Errorf("%w: %v", k8s.ErrInvalidInput, parseErr)
		}
		if req.Replicas == nil {
			return nil, "", fmt.Errorf("%w: replicas is required", k8s.ErrInvalidInput)
		}
		obj, err := h.k8sClient.Scale(ctx, ref, *req.Replicas)
		return obj, fmt.Sprintf("%d replicas", *req.Replicas), err
	})
}

// Delete removes an object
// DELETE .../:resource/:name
func (h *ResourceHandlers) Delete(c *fiber.Ctx) error {
	return h.act(c, notify.ActionDelete, func(ctx context.Context, ref k8s.ResourceRef) (models.Object, string, error) {
		return nil, "", h.k8sClient.Delete(ctx, ref)
	})
}
