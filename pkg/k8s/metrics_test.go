package k8s

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	k8stesting "k8s.io/client-go/testing"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	metricsfake "k8s.io/metrics/pkg/client/clientset/versioned/fake"
)

func samplePodMetrics() *metricsv1beta1.PodMetrics {
	return &metricsv1beta1.PodMetrics{
		ObjectMeta: metav1.ObjectMeta{Name: "web-1", Namespace: "default"},
		Timestamp:  metav1.NewTime(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
		Window:     metav1.Duration{Duration: 30 * time.Second},
		Containers: []metricsv1beta1.ContainerMetrics{
			{Name: "app", Usage: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("250m"),
				corev1.ResourceMemory: resource.MustParse("128Mi"),
			}},
			{Name: "sidecar", Usage: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("50m"),
				corev1.ResourceMemory: resource.MustParse("32Mi"),
			}},
		},
	}
}

func TestPodMetrics(t *testing.T) {
	cs := metricsfake.NewSimpleClientset()
	reactor := func(action k8stesting.Action) (bool, runtime.Object, error) {
		get := action.(k8stesting.GetAction)
		if get.GetName() != "web-1" {
			return true, nil, apierrors.NewNotFound(schema.GroupResource{Group: "metrics.k8s.io", Resource: "pods"}, get.GetName())
		}
		return true, samplePodMetrics(), nil
	}
	// older generated fakes register PodMetrics under "pods"
	cs.PrependReactor("get", "pods", reactor)
	cs.PrependReactor("get", "podmetricses", reactor)

	m, _ := NewMultiClusterClient("")
	m.InjectPodMetrics("prod", NewPodMetricsAPI(cs.MetricsV1beta1()))

	usage, err := m.PodMetrics(context.Background(), "prod", "default", "web-1")
	require.NoError(t, err)
	assert.Equal(t, "prod", usage.Cluster)
	assert.Equal(t, int64(300), usage.CPUMillicores)
	assert.Equal(t, int64(160*1024*1024), usage.MemoryBytes)
	assert.Equal(t, "30s", usage.Window)
	require.Len(t, usage.Containers, 2)
	assert.Equal(t, int64(250), usage.Containers[0].CPUMillicores)

	_, err = m.PodMetrics(context.Background(), "prod", "default", "missing")
	assert.True(t, apierrors.IsNotFound(err))
}
