package k8s

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/cli-runtime/pkg/printers"
	"k8s.io/client-go/dynamic"
	"k8s.io/kubectl/pkg/describe"

	"github.com/kubelens/kubelens/pkg/aggregate"
	"github.com/kubelens/kubelens/pkg/models"
)

// ResourceRef names a single object.
type ResourceRef struct {
	Cluster   string `json:"cluster"`
	Kind      string `json:"kind"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
}

func (r ResourceRef) String() string {
	if r.Namespace == "" {
		return fmt.Sprintf("%s/%s/%s", r.Cluster, r.Kind, r.Name)
	}
	return fmt.Sprintf("%s/%s/%s/%s", r.Cluster, r.Kind, r.Namespace, r.Name)
}

// Detail is a projection together with the full API object.
type Detail struct {
	Object models.Object          `json:"object"`
	Raw    map[string]interface{} `json:"raw"`
}

// resource returns the dynamic client scoped to kind and namespace.
// Cluster-scoped kinds ignore namespace.
func (m *MultiClusterClient) resource(cluster string, k Kind, namespace string) (dynamic.ResourceInterface, error) {
	client, err := m.GetDynamicClient(cluster)
	if err != nil {
		return nil, err
	}
	nri := client.Resource(k.GVR)
	if !k.Namespaced {
		return nri, nil
	}
	return nri.Namespace(namespace), nil
}

func (m *MultiClusterClient) resourceFor(ref ResourceRef) (Kind, dynamic.ResourceInterface, error) {
	k, err := LookupKind(ref.Kind)
	if err != nil {
		return Kind{}, nil, err
	}
	ri, err := m.resource(ref.Cluster, k, ref.Namespace)
	if err != nil {
		return Kind{}, nil, err
	}
	return k, ri, nil
}

// List returns the projections of one kind in one cluster. An empty namespace
// lists all namespaces.
func (m *MultiClusterClient) List(ctx context.Context, kind, cluster, namespace string) ([]models.Object, error) {
	k, err := LookupKind(kind)
	if err != nil {
		return nil, err
	}
	ri, err := m.resource(cluster, k, namespace)
	if err != nil {
		return nil, err
	}

	list, err := ri.List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list %s in %s: %w", kind, cluster, err)
	}

	items := make([]models.Object, 0, len(list.Items))
	for i := range list.Items {
		obj, err := k.Project(&list.Items[i], cluster)
		if err != nil {
			return nil, err
		}
		items = append(items, obj)
	}
	return items, nil
}

// ListAll lists kind across clusters in parallel. Clusters that fail
// contribute nothing and are reported in the result outcomes.
func (m *MultiClusterClient) ListAll(ctx context.Context, kind string, clusters []string, namespace string) (aggregate.Result[models.Object], error) {
	if _, err := LookupKind(kind); err != nil {
		return aggregate.Result[models.Object]{}, err
	}
	return aggregate.Collect(ctx, clusters, m.fanOutOptions(), m.clusterLister(kind, namespace)), nil
}

// StreamAll lists kind across clusters like ListAll but hands each cluster's
// outcome to emit as soon as that cluster answers.
func (m *MultiClusterClient) StreamAll(ctx context.Context, kind string, clusters []string, namespace string, emit aggregate.EmitFunc[models.Object]) error {
	if _, err := LookupKind(kind); err != nil {
		return err
	}
	aggregate.Stream(ctx, clusters, m.fanOutOptions(), m.clusterLister(kind, namespace), emit)
	return nil
}

func (m *MultiClusterClient) fanOutOptions() aggregate.Options {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return aggregate.Options{ClusterTimeout: m.clusterTimeout, Observer: m.observer}
}

func (m *MultiClusterClient) clusterLister(kind, namespace string) aggregate.FetchFunc[models.Object] {
	return func(ctx context.Context, cluster string) ([]models.Object, error) {
		return m.List(ctx, kind, cluster, namespace)
	}
}

// Get returns one object with its projection.
func (m *MultiClusterClient) Get(ctx context.Context, ref ResourceRef) (*Detail, error) {
	k, ri, err := m.resourceFor(ref)
	if err != nil {
		return nil, err
	}
	u, err := ri.Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	obj, err := k.Project(u, ref.Cluster)
	if err != nil {
		return nil, err
	}
	unstructured.RemoveNestedField(u.Object, "metadata", "managedFields")
	return &Detail{Object: obj, Raw: u.Object}, nil
}

// GetYAML returns the object as editable YAML. Server-managed noise
// (managedFields) is removed.
func (m *MultiClusterClient) GetYAML(ctx context.Context, ref ResourceRef) (string, error) {
	_, ri, err := m.resourceFor(ref)
	if err != nil {
		return "", err
	}
	u, err := ri.Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return "", err
	}
	unstructured.RemoveNestedField(u.Object, "metadata", "managedFields")

	var buf bytes.Buffer
	printer := &printers.YAMLPrinter{}
	if err := printer.PrintObj(u, &buf); err != nil {
		return "", fmt.Errorf("render yaml: %w", err)
	}
	return buf.String(), nil
}

// Describe renders the kubectl describe output of an object. Kinds without a
// dedicated describer fall back to YAML.
func (m *MultiClusterClient) Describe(ctx context.Context, ref ResourceRef) (string, error) {
	k, err := LookupKind(ref.Kind)
	if err != nil {
		return "", err
	}
	config, err := m.GetRestConfig(ref.Cluster)
	if err != nil {
		return "", err
	}

	d, ok := describe.DescriberFor(k.GroupKind, config)
	if !ok {
		return m.GetYAML(ctx, ref)
	}
	return d.Describe(ref.Namespace, ref.Name, describe.DescriberSettings{ShowEvents: true, ChunkSize: 500})
}

// ListNamespaces returns the namespace names of a cluster, sorted.
func (m *MultiClusterClient) ListNamespaces(ctx context.Context, cluster string) ([]string, error) {
	client, err := m.GetClient(cluster)
	if err != nil {
		return nil, err
	}
	list, err := client.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list namespaces in %s: %w", cluster, err)
	}
	names := make([]string, 0, len(list.Items))
	for _, ns := range list.Items {
		names = append(names, ns.Name)
	}
	sort.Strings(names)
	return names, nil
}
