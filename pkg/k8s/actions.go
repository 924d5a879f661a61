package k8s

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"

	"github.com/kubelens/kubelens/pkg/models"
)

// ErrInvalidInput marks a request the API server was never asked about.
var ErrInvalidInput = errors.New("invalid input")

const restartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"

// Update replaces an object with manifest, which may be YAML or JSON. The
// manifest's kind, name and namespace must match ref. When the manifest has no
// resourceVersion the current one is used, so the write is last-writer-wins;
// a stale resourceVersion yields a conflict.
func (m *MultiClusterClient) Update(ctx context.Context, ref ResourceRef, manifest []byte) (models.Object, error) {
	k, ri, err := m.resourceFor(ref)
	if err != nil {
		return nil, err
	}

	// YAMLToJSON accepts JSON as well
	data, err := yaml.YAMLToJSON(manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %v", ErrInvalidInput, err)
	}
	u := &unstructured.Unstructured{}
	if err := u.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", ErrInvalidInput, err)
	}

	if err := checkMatches(k, ref, u); err != nil {
		return nil, err
	}

	if u.GetResourceVersion() == "" {
		current, err := ri.Get(ctx, ref.Name, metav1.GetOptions{})
		if err != nil {
			return nil, err
		}
		u.SetResourceVersion(current.GetResourceVersion())
	}

	updated, err := ri.Update(ctx, u, metav1.UpdateOptions{FieldManager: fieldManager})
	if err != nil {
		return nil, err
	}
	return k.Project(updated, ref.Cluster)
}

const fieldManager = "kubelens"

func checkMatches(k Kind, ref ResourceRef, u *unstructured.Unstructured) error {
	gvk := u.GroupVersionKind()
	if gvk.Kind != k.GroupKind.Kind || gvk.Group != k.GroupKind.Group {
		return fmt.Errorf("%w: kind %s, expected %s", ErrMismatchedObject, gvk.GroupKind(), k.GroupKind)
	}
	if u.GetName() != ref.Name {
		return fmt.Errorf("%w: name %q, expected %q", ErrMismatchedObject, u.GetName(), ref.Name)
	}
	if !k.Namespaced {
		if u.GetNamespace() != "" {
			return fmt.Errorf("%w: %s is cluster-scoped", ErrMismatchedObject, k.Name)
		}
		return nil
	}
	switch u.GetNamespace() {
	case "":
		u.SetNamespace(ref.Namespace)
	case ref.Namespace:
	default:
		return fmt.Errorf("%w: namespace %q, expected %q", ErrMismatchedObject, u.GetNamespace(), ref.Namespace)
	}
	return nil
}

// Scale sets spec.replicas of a deployment, replicaset or statefulset.
func (m *MultiClusterClient) Scale(ctx context.Context, ref ResourceRef, replicas int32) (models.Object, error) {
	k, ri, err := m.resourceFor(ref)
	if err != nil {
		return nil, err
	}
	if !k.Scalable {
		return nil, fmt.Errorf("%w: %s", ErrNotScalable, k.Name)
	}
	if replicas < 0 {
		return nil, fmt.Errorf("%w: replicas must not be negative", ErrInvalidInput)
	}

	patch, err := json.Marshal(map[string]interface{}{
		"spec": map[string]interface{}{"replicas": ptr.To(replicas)},
	})
	if err != nil {
		return nil, err
	}
	updated, err := ri.Patch(ctx, ref.Name, types.MergePatchType, patch, metav1.PatchOptions{FieldManager: fieldManager})
	if err != nil {
		return nil, err
	}
	return k.Project(updated, ref.Cluster)
}

// Restart triggers a rollout restart the way kubectl does, by stamping the pod
// template with a restartedAt annotation.
func (m *MultiClusterClient) Restart(ctx context.Context, ref ResourceRef) (models.Object, error) {
	k, ri, err := m.resourceFor(ref)
	if err != nil {
		return nil, err
	}
	if !k.Restartable {
		return nil, fmt.Errorf("%w: %s", ErrNotRestartable, k.Name)
	}

	patch, err := json.Marshal(map[string]interface{}{
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"metadata": map[string]interface{}{
					"annotations": map[string]interface{}{
						restartedAtAnnotation: time.Now().UTC().Format(time.RFC3339),
					},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	updated, err := ri.Patch(ctx, ref.Name, types.MergePatchType, patch, metav1.PatchOptions{FieldManager: fieldManager})
	if err != nil {
		return nil, err
	}
	return k.Project(updated, ref.Cluster)
}

// Delete removes an object, letting the garbage collector remove dependents
// in the background.
func (m *MultiClusterClient) Delete(ctx context.Context, ref ResourceRef) error {
	_, ri, err := m.resourceFor(ref)
	if err != nil {
		return err
	}
	return ri.Delete(ctx, ref.Name, metav1.DeleteOptions{
		PropagationPolicy: ptr.To(metav1.DeletePropagationBackground),
	})
}
