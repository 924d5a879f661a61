package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"

	"github.com/kubelens/kubelens/pkg/k8s"
)

// podMetricsFunc adapts a function to k8s.PodMetricsAPI.
type podMetricsFunc func(ctx context.Context, namespace, name string) (*metricsv1beta1.PodMetrics, error)

func (f podMetricsFunc) GetPodMetrics(ctx context.Context, namespace, name string) (*metricsv1beta1.PodMetrics, error) {
	return f(ctx, namespace, name)
}

func setupClusterEnv(t *testing.T) *testEnv {
	t.Helper()
	env := setupTestEnv(t)
	h := NewClusterHandlers(env.K8sClient)
	env.App.Get("/api/clusters", h.ListClusters)
	env.App.Get("/api/clusters/:cluster/namespaces", h.ListNamespaces)
	env.App.Get("/api/clusters/:cluster/health", h.GetClusterHealth)
	env.App.Get("/api/clusters/:cluster/namespaces/:namespace/pods/:pod/metrics", h.GetPodMetrics)
	return env
}

func readyNode(name string, ready bool) *corev1.Node {
	status := corev1.ConditionTrue
	if !ready {
		status = corev1.ConditionFalse
	}
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status: corev1.NodeStatus{Conditions: []corev1.NodeCondition{
			{Type: corev1.NodeReady, Status: status},
		}},
	}
}

func TestListClusters(t *testing.T) {
	env := setupClusterEnv(t)
	injectCluster(env, "beta")
	injectCluster(env, "alpha")

	resp := env.do(t, http.MethodGet, "/api/clusters", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Clusters []k8s.ClusterInfo `json:"clusters"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Clusters, 2)
	assert.Equal(t, "alpha", body.Clusters[0].Name)
	assert.Equal(t, "beta", body.Clusters[1].Name)
	assert.Equal(t, "https://alpha.example.com:6443", body.Clusters[0].Server)
}

func TestListClusters_Deduplicates(t *testing.T) {
	env := setupClusterEnv(t)
	injectCluster(env, "prod")
	// a generated context name for the same API server
	env.kubeconfig.Contexts["arn:aws:eks:eu-west-1:123:cluster/prod"] = env.kubeconfig.Contexts["prod"]
	env.K8sClient.SetRawConfig(env.kubeconfig)

	resp := env.do(t, http.MethodGet, "/api/clusters", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Clusters []k8s.ClusterInfo `json:"clusters"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Clusters, 1)
	assert.Equal(t, "prod", body.Clusters[0].Name)
}

func TestListClusters_NoClient(t *testing.T) {
	env := setupTestEnv(t)
	h := NewClusterHandlers(nil)
	env.App.Get("/api/clusters", h.ListClusters)

	resp := env.do(t, http.MethodGet, "/api/clusters", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body errorBody
	decode(t, resp, &body)
	assert.Equal(t, "No cluster access", body.Error)
}

func TestListNamespaces(t *testing.T) {
	env := setupClusterEnv(t)
	injectCluster(env, "alpha",
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "kube-system"}},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "default"}},
	)

	resp := env.do(t, http.MethodGet, "/api/clusters/alpha/namespaces", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Namespaces []string `json:"namespaces"`
	}
	decode(t, resp, &body)
	assert.Equal(t, []string{"default", "kube-system"}, body.Namespaces)
}

func TestGetClusterHealth(t *testing.T) {
	env := setupClusterEnv(t)
	injectCluster(env, "alpha", readyNode("n1", true), readyNode("n2", false))

	resp := env.do(t, http.MethodGet, "/api/clusters/alpha/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health k8s.ClusterHealth
	decode(t, resp, &health)
	assert.True(t, health.Reachable)
	assert.False(t, health.Healthy)
	assert.Equal(t, 2, health.NodeCount)
	assert.Equal(t, 1, health.ReadyNodes)
}

func TestGetClusterHealth_UnknownCluster(t *testing.T) {
	env := setupClusterEnv(t)
	injectCluster(env, "alpha")

	resp := env.do(t, http.MethodGet, "/api/clusters/missing/health", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetPodMetrics(t *testing.T) {
	env := setupClusterEnv(t)
	injectCluster(env, "alpha")
	env.K8sClient.InjectPodMetrics("alpha", podMetricsFunc(func(_ context.Context, namespace, name string) (*metricsv1beta1.PodMetrics, error) {
		if name != "web-1" {
			return nil, apierrors.NewNotFound(schema.GroupResource{Group: "metrics.k8s.io", Resource: "pods"}, name)
		}
		return &metricsv1beta1.PodMetrics{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
			Timestamp:  metav1.NewTime(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
			Containers: []metricsv1beta1.ContainerMetrics{{
				Name: "app",
				Usage: corev1.ResourceList{
					corev1.ResourceCPU:    resource.MustParse("250m"),
					corev1.ResourceMemory: resource.MustParse("64Mi"),
				},
			}},
		}, nil
	}))

	resp := env.do(t, http.MethodGet, "/api/clusters/alpha/namespaces/default/pods/web-1/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var usage k8s.PodUsage
	decode(t, resp, &usage)
	assert.Equal(t, int64(250), usage.CPUMillicores)
	assert.Equal(t, int64(64*1024*1024), usage.MemoryBytes)
	assert.Equal(t, "alpha", usage.Cluster)

	resp = env.do(t, http.MethodGet, "/api/clusters/alpha/namespaces/default/pods/missing/metrics", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
