package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kubelens/kubelens/pkg/k8s"
)

// ClusterHandlers serves cluster, namespace and pod metrics endpoints.
type ClusterHandlers struct {
	k8sClient *k8s.MultiClusterClient
}

// NewClusterHandlers creates cluster handlers
func NewClusterHandlers(k8sClient *k8s.MultiClusterClient) *ClusterHandlers {
	return &ClusterHandlers{k8sClient: k8sClient}
}

// ListClusters returns the deduplicated clusters with their cached health
// GET /api/clusters
func (h *ClusterHandlers) ListClusters(c *fiber.Ctx) error {
	if h.k8sClient == nil {
		return errNoClusterAccess
	}
	clusters, err := h.k8sClient.DeduplicatedClusters(c.UserContext())
	if err != nil {
		return err
	}
	if clusters == nil {
		clusters = []k8s.ClusterInfo{}
	}
	return c.JSON(fiber.Map{"clusters": clusters})
}

// GetClusterHealth probes one cluster
// GET /api/clusters/:cluster/health
func (h *ClusterHandlers) GetClusterHealth(c *fiber.Ctx) error {
	if h.k8sClient == nil {
		return errNoClusterAccess
	}
	health, err := h.k8sClient.GetClusterHealth(c.UserContext(), c.Params("cluster"))
	if err != nil {
		return err
	}
	return c.JSON(health)
}

// ListNamespaces returns the namespaces of a cluster
// GET /api/clusters/:cluster/namespaces
func (h *ClusterHandlers) ListNamespaces(c *fiber.Ctx) error {
	if h.k8sClient == nil {
		return errNoClusterAccess
	}
	namespaces, err := h.k8sClient.ListNamespaces(c.UserContext(), c.Params("cluster"))
	if err != nil {
		return err
	}
	if namespaces == nil {
		namespaces = []string{}
	}
	return c.JSON(fiber.Map{"namespaces": namespaces})
}

// GetPodMetrics returns the CPU and memory usage of a pod
// GET /api/clusters/:cluster/namespaces/:namespace/pods/:pod/metrics
func (h *ClusterHandlers) GetPodMetrics(c *fiber.Ctx) error {
	if h.k8sClient == nil {
		return errNoClusterAccess
	}
	usage, err := h.k8sClient.PodMetrics(c.UserContext(), c.Params("cluster"), c.Params("namespace"), c.Params("pod"))
	if err != nil {
		return err
	}
	return c.JSON(usage)
}
