package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kubelens/kubelens/pkg/k8s"
	"github.com/kubelens/kubelens/pkg/models"
)

var kindAliases = map[string]string{
	"deploy":      models.KindDeployments,
	"deployment":  models.KindDeployments,
	"rs":          models.KindReplicaSets,
	"replicaset":  models.KindReplicaSets,
	"ds":          models.KindDaemonSets,
	"daemonset":   models.KindDaemonSets,
	"sts":         models.KindStatefulSets,
	"statefulset": models.KindStatefulSets,
	"job":         models.KindJobs,
	"po":          models.KindPods,
	"pod":         models.KindPods,

	"cm":        models.KindConfigMaps,
	"configmap": models.KindConfigMaps,
	"svc":       models.KindServices,
	"service":   models.KindServices,
	"ing":       models.KindIngresses,
	"ingress":   models.KindIngresses,

	"clusterrole":        models.KindClusterRoles,
	"crb":                models.KindClusterRoleBindings,
	"clusterrolebinding": models.KindClusterRoleBindings,

	"vwc":                            models.KindValidatingWebhookConfigurations,
	"validatingwebhookconfiguration": models.KindValidatingWebhookConfigurations,
	"mwc":                            models.KindMutatingWebhookConfigurations,
	"mutatingwebhookconfiguration":   models.KindMutatingWebhookConfigurations,
}

// resolveKind maps a kind name or short alias to its registry entry.
func resolveKind(name string) (k8s.Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if full, ok := kindAliases[name]; ok {
		name = full
	}
	k, err := k8s.LookupKind(name)
	if err != nil {
		return k8s.Kind{}, fmt.Errorf("%w (supported: %s)", err, strings.Join(k8s.KindNames(), ", "))
	}
	return k, nil
}

// objectFlags identify one object together with the KIND NAME arguments.
type objectFlags struct {
	cluster   string
	namespace string
}

func (f *objectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.cluster, "cluster", "c", "", "cluster of the object (default: the only selected cluster)")
	cmd.Flags().StringVarP(&f.namespace, "namespace", "n", "", "namespace of the object (default: config namespace, then \"default\")")
}

// ref builds the reference for KIND NAME. NAME may also be written as
// cluster/namespace/name or namespace/name.
func (f *objectFlags) ref(kindArg, nameArg string) (k8s.ResourceRef, error) {
	kind, err := resolveKind(kindArg)
	if err != nil {
		return k8s.ResourceRef{}, err
	}
	ref := k8s.ResourceRef{Kind: kind.Name, Cluster: f.cluster, Namespace: f.namespace, Name: nameArg}

	parts := strings.Split(nameArg, "/")
	switch {
	case len(parts) == 3 && kind.Namespaced:
		ref.Cluster, ref.Namespace, ref.Name = parts[0], parts[1], parts[2]
	case len(parts) == 2 && kind.Namespaced:
		ref.Namespace, ref.Name = parts[0], parts[1]
	case len(parts) == 2:
		ref.Cluster, ref.Name = parts[0], parts[1]
	case len(parts) != 1:
		return k8s.ResourceRef{}, fmt.Errorf("invalid object name %q", nameArg)
	}

	cfg := current.config.Get()
	if ref.Cluster == "" {
		if len(cfg.Clusters) != 1 {
			return k8s.ResourceRef{}, errors.New("--cluster is required unless exactly one cluster is selected with 'kubelensctl use'")
		}
		ref.Cluster = cfg.Clusters[0]
	}
	if !kind.Namespaced {
		ref.Namespace = ""
	} else if ref.Namespace == "" {
		ref.Namespace = cfg.Namespace
		if ref.Namespace == "" {
			ref.Namespace = "default"
		}
	}
	if ref.Name == "" {
		return k8s.ResourceRef{}, errors.New("object name is required")
	}
	return ref, nil
}
