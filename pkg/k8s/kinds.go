package k8s

import (
	"errors"
	"fmt"
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/kubelens/kubelens/pkg/models"
)

var (
	ErrUnknownKind      = errors.New("unknown resource kind")
	ErrNotScalable      = errors.New("resource kind cannot be scaled")
	ErrNotRestartable   = errors.New("resource kind cannot be restarted")
	ErrMismatchedObject = errors.New("object does not match the request path")
	ErrUnknownCluster   = errors.New("unknown cluster")
)

// Kind describes one resource kind served by the dashboard.
type Kind struct {
	// Name is the plural REST name used in URLs, e.g. "deployments".
	Name        string
	GVR         schema.GroupVersionResource
	GroupKind   schema.GroupKind
	Namespaced  bool
	Scalable    bool
	Restartable bool

	project func(u *unstructured.Unstructured) (models.Object, error)
}

// APIVersion returns the group/version string of the kind.
func (k Kind) APIVersion() string {
	return k.GVR.GroupVersion().String()
}

// Project converts an API object into its dashboard projection.
func (k Kind) Project(u *unstructured.Unstructured, cluster string) (models.Object, error) {
	obj, err := k.project(u)
	if err != nil {
		return nil, fmt.Errorf("project %s %s: %w", k.GroupKind.Kind, u.GetName(), err)
	}
	obj.Meta().Cluster = cluster
	return obj, nil
}

var (
	appsV1   = schema.GroupVersion{Group: "apps", Version: "v1"}
	batchV1  = schema.GroupVersion{Group: "batch", Version: "v1"}
	coreV1   = schema.GroupVersion{Version: "v1"}
	netV1    = schema.GroupVersion{Group: "networking.k8s.io", Version: "v1"}
	rbacV1   = schema.GroupVersion{Group: "rbac.authorization.k8s.io", Version: "v1"}
	admissV1 = schema.GroupVersion{Group: "admissionregistration.k8s.io", Version: "v1"}
)

func kind(gv schema.GroupVersion, resource, kindName string) Kind {
	return Kind{
		Name:      resource,
		GVR:       gv.WithResource(resource),
		GroupKind: schema.GroupKind{Group: gv.Group, Kind: kindName},
	}
}

// Kinds is the registry of every supported resource kind keyed by REST name.
var Kinds = func() map[string]Kind {
	reg := map[string]Kind{}
	add := func(k Kind, namespaced, scalable, restartable bool, project func(*unstructured.Unstructured) (models.Object, error)) {
		k.Namespaced = namespaced
		k.Scalable = scalable
		k.Restartable = restartable
		k.project = project
		reg[k.Name] = k
	}

	add(kind(appsV1, models.KindDeployments, "Deployment"), true, true, true, projectDeployment)
	add(kind(appsV1, models.KindReplicaSets, "ReplicaSet"), true, true, false, projectReplicaSet)
	add(kind(appsV1, models.KindDaemonSets, "DaemonSet"), true, false, true, projectDaemonSet)
	add(kind(appsV1, models.KindStatefulSets, "StatefulSet"), true, true, true, projectStatefulSet)
	add(kind(batchV1, models.KindJobs, "Job"), true, false, false, projectJob)
	add(kind(coreV1, models.KindPods, "Pod"), true, false, false, projectPod)
	add(kind(coreV1, models.KindConfigMaps, "ConfigMap"), true, false, false, projectConfigMap)
	add(kind(coreV1, models.KindServices, "Service"), true, false, false, projectService)
	add(kind(netV1, models.KindIngresses, "Ingress"), true, false, false, projectIngress)
	add(kind(rbacV1, models.KindClusterRoles, "ClusterRole"), false, false, false, projectClusterRole)
	add(kind(rbacV1, models.KindClusterRoleBindings, "ClusterRoleBinding"), false, false, false, projectClusterRoleBinding)
	add(kind(admissV1, models.KindValidatingWebhookConfigurations, "ValidatingWebhookConfiguration"), false, false, false, projectValidatingWebhooks)
	add(kind(admissV1, models.KindMutatingWebhookConfigurations, "MutatingWebhookConfiguration"), false, false, false, projectMutatingWebhooks)
	return reg
}()

// LookupKind returns the registry entry for a REST name.
func LookupKind(name string) (Kind, error) {
	k, ok := Kinds[name]
	if !ok {
		return Kind{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return k, nil
}

// KindNames returns the registered REST names, sorted.
func KindNames() []string {
	names := make([]string, 0, len(Kinds))
	for name := range Kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
