package k8s

import (
	"context"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	metricsv1beta1client "k8s.io/metrics/pkg/client/clientset/versioned/typed/metrics/v1beta1"
)

// PodMetricsAPI abstracts the metrics-server API for testability.
type PodMetricsAPI interface {
	GetPodMetrics(ctx context.Context, namespace, name string) (*metricsv1beta1.PodMetrics, error)
}

type podMetricsClient struct {
	client metricsv1beta1client.MetricsV1beta1Interface
}

// NewPodMetricsAPI wraps a metrics.k8s.io client.
func NewPodMetricsAPI(client metricsv1beta1client.MetricsV1beta1Interface) PodMetricsAPI {
	return &podMetricsClient{client: client}
}

func (c *podMetricsClient) GetPodMetrics(ctx context.Context, namespace, name string) (*metricsv1beta1.PodMetrics, error) {
	return c.client.PodMetricses(namespace).Get(ctx, name, metav1.GetOptions{})
}

// ContainerUsage is the resource usage of one container.
type ContainerUsage struct {
	Name          string `json:"name"`
	CPUMillicores int64  `json:"cpuMillicores"`
	MemoryBytes   int64  `json:"memoryBytes"`
}

// PodUsage is the resource usage of a pod, summed over its containers.
type PodUsage struct {
	Cluster       string           `json:"cluster"`
	Namespace     string           `json:"namespace"`
	Pod           string           `json:"pod"`
	CPUMillicores int64            `json:"cpuMillicores"`
	MemoryBytes   int64            `json:"memoryBytes"`
	Window        string           `json:"window,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
	Containers    []ContainerUsage `json:"containers"`
}

// PodMetrics returns the current CPU and memory usage of a pod.
func (m *MultiClusterClient) PodMetrics(ctx context.Context, cluster, namespace, pod string) (*PodUsage, error) {
	api, err := m.GetPodMetricsAPI(cluster)
	if err != nil {
		return nil, err
	}
	pm, err := api.GetPodMetrics(ctx, namespace, pod)
	if err != nil {
		return nil, err
	}

	usage := &PodUsage{
		Cluster:    cluster,
		Namespace:  pm.Namespace,
		Pod:        pm.Name,
		Window:     pm.Window.Duration.String(),
		Timestamp:  pm.Timestamp.Time,
		Containers: make([]ContainerUsage, 0, len(pm.Containers)),
	}
	for _, c := range pm.Containers {
		cu := ContainerUsage{Name: c.Name}
		if cpu, ok := c.Usage["cpu"]; ok {
			cu.CPUMillicores = cpu.MilliValue()
		}
		if mem, ok := c.Usage["memory"]; ok {
			cu.MemoryBytes = mem.Value()
		}
		usage.CPUMillicores += cu.CPUMillicores
		usage.MemoryBytes += cu.MemoryBytes
		usage.Containers = append(usage.Containers, cu)
	}
	return usage, nil
}
