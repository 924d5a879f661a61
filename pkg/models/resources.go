package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kubelens/kubelens/pkg/status"
)

// Resource kinds, named as they appear in REST paths.
const (
	KindDeployments                     = "deployments"
	KindReplicaSets                     = "replicasets"
	KindDaemonSets                      = "daemonsets"
	KindStatefulSets                    = "statefulsets"
	KindJobs                            = "jobs"
	KindPods                            = "pods"
	KindConfigMaps                      = "configmaps"
	KindServices                        = "services"
	KindIngresses                       = "ingresses"
	KindClusterRoles                    = "clusterroles"
	KindClusterRoleBindings             = "clusterrolebindings"
	KindValidatingWebhookConfigurations = "validatingwebhookconfigurations"
	KindMutatingWebhookConfigurations   = "mutatingwebhookconfigurations"
)

// ObjectMeta is the metadata every projection carries. Cluster is set by the
// backend when a list is aggregated across clusters.
type ObjectMeta struct {
	Kind        string            `json:"kind"`
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace,omitempty"`
	Cluster     string            `json:"cluster"`
	UID         string            `json:"uid,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	Age         string            `json:"age,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Meta returns the shared metadata.
func (m *ObjectMeta) Meta() *ObjectMeta { return m }

// Object is implemented by every resource projection.
type Object interface {
	Meta() *ObjectMeta
}

// Statused is implemented by projections with a derived status label.
type Statused interface {
	Object
	GetStatus() status.Status
}

// Deployment is a Deployment projection.
type Deployment struct {
	ObjectMeta
	Status     status.Status      `json:"status"`
	Replicas   status.Counts      `json:"replicas"`
	Images     []string           `json:"images,omitempty"`
	Strategy   string             `json:"strategy,omitempty"`
	Conditions []status.Condition `json:"conditions,omitempty"`
}

func (d *Deployment) GetStatus() status.Status { return d.Status }

// ReplicaSet is a ReplicaSet projection.
type ReplicaSet struct {
	ObjectMeta
	Status     status.Status      `json:"status"`
	Replicas   status.Counts      `json:"replicas"`
	Owner      string             `json:"owner,omitempty"`
	Images     []string           `json:"images,omitempty"`
	Conditions []status.Condition `json:"conditions,omitempty"`
}

func (r *ReplicaSet) GetStatus() status.Status { return r.Status }

// DaemonSet is a DaemonSet projection.
type DaemonSet struct {
	ObjectMeta
	Status       status.Status     `json:"status"`
	Replicas     status.Counts     `json:"replicas"`
	Misscheduled int32             `json:"misscheduled,omitempty"`
	NodeSelector map[string]string `json:"nodeSelector,omitempty"`
	Images       []string          `json:"images,omitempty"`
}

func (d *DaemonSet) GetStatus() status.Status { return d.Status }

// StatefulSet is a StatefulSet projection.
type StatefulSet struct {
	ObjectMeta
	Status          status.Status `json:"status"`
	Replicas        status.Counts `json:"replicas"`
	ServiceName     string        `json:"serviceName,omitempty"`
	CurrentRevision string        `json:"currentRevision,omitempty"`
	UpdateRevision  string        `json:"updateRevision,omitempty"`
	Images          []string      `json:"images,omitempty"`
}

func (s *StatefulSet) GetStatus() status.Status { return s.Status }

// Job is a Job projection.
type Job struct {
	ObjectMeta
	Status      status.Status      `json:"status"`
	Completions string             `json:"completions"`
	Succeeded   int32              `json:"succeeded"`
	Failed      int32              `json:"failed"`
	Active      int32              `json:"active"`
	Suspended   bool               `json:"suspended,omitempty"`
	Duration    string             `json:"duration,omitempty"`
	Owner       string             `json:"owner,omitempty"`
	Conditions  []status.Condition `json:"conditions,omitempty"`
}

func (j *Job) GetStatus() status.Status { return j.Status }

// ContainerInfo summarises one container of a Pod.
type ContainerInfo struct {
	Name         string `json:"name"`
	Image        string `json:"image"`
	Ready        bool   `json:"ready"`
	RestartCount int32  `json:"restartCount"`
	State        string `json:"state"`
	Reason       string `json:"reason,omitempty"`
}

// Pod is a Pod projection.
type Pod struct {
	ObjectMeta
	Status     status.Status   `json:"status"`
	Phase      string          `json:"phase"`
	Ready      string          `json:"ready"`
	Restarts   int32           `json:"restarts"`
	Node       string          `json:"node,omitempty"`
	PodIP      string          `json:"podIP,omitempty"`
	Owner      string          `json:"owner,omitempty"`
	Containers []ContainerInfo `json:"containers,omitempty"`
}

func (p *Pod) GetStatus() status.Status { return p.Status }

// ConfigMap is a ConfigMap projection. Values are omitted from lists.
type ConfigMap struct {
	ObjectMeta
	DataKeys  []string `json:"dataKeys,omitempty"`
	DataCount int      `json:"dataCount"`
	Immutable bool     `json:"immutable,omitempty"`
}

// Service is a Service projection.
type Service struct {
	ObjectMeta
	Type       string            `json:"type"`
	ClusterIP  string            `json:"clusterIP,omitempty"`
	ExternalIP string            `json:"externalIP,omitempty"`
	Ports      []string          `json:"ports,omitempty"`
	Selector   map[string]string `json:"selector,omitempty"`
}

// Ingress is an Ingress projection.
type Ingress struct {
	ObjectMeta
	Class   string   `json:"class,omitempty"`
	Hosts   []string `json:"hosts,omitempty"`
	Address string   `json:"address,omitempty"`
	Paths   []string `json:"paths,omitempty"`
	TLS     bool     `json:"tls,omitempty"`
}

// ClusterRole is a ClusterRole projection.
type ClusterRole struct {
	ObjectMeta
	RuleCount  int  `json:"ruleCount"`
	Aggregated bool `json:"aggregated,omitempty"`
	IsSystem   bool `json:"isSystem"`
}

// Subject is a binding subject.
type Subject struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
}

// ClusterRoleBinding is a ClusterRoleBinding projection.
type ClusterRoleBinding struct {
	ObjectMeta
	RoleRef  string    `json:"roleRef"`
	Subjects []Subject `json:"subjects,omitempty"`
	IsSystem bool      `json:"isSystem"`
}

// Webhook summarises one admission webhook of a configuration.
type Webhook struct {
	Name          string `json:"name"`
	FailurePolicy string `json:"failurePolicy,omitempty"`
	Target        string `json:"target,omitempty"`
	Rules         int    `json:"rules"`
}

// WebhookConfiguration projects both validating and mutating configurations.
type WebhookConfiguration struct {
	ObjectMeta
	Type     string    `json:"type"` // Validating or Mutating
	Webhooks []Webhook `json:"webhooks,omitempty"`
}

var factories = map[string]func() Object{
	KindDeployments:                     func() Object { return &Deployment{} },
	KindReplicaSets:                     func() Object { return &ReplicaSet{} },
	KindDaemonSets:                      func() Object { return &DaemonSet{} },
	KindStatefulSets:                    func() Object { return &StatefulSet{} },
	KindJobs:                            func() Object { return &Job{} },
	KindPods:                            func() Object { return &Pod{} },
	KindConfigMaps:                      func() Object { return &ConfigMap{} },
	KindServices:                        func() Object { return &Service{} },
	KindIngresses:                       func() Object { return &Ingress{} },
	KindClusterRoles:                    func() Object { return &ClusterRole{} },
	KindClusterRoleBindings:             func() Object { return &ClusterRoleBinding{} },
	KindValidatingWebhookConfigurations: func() Object { return &WebhookConfiguration{} },
	KindMutatingWebhookConfigurations:   func() Object { return &WebhookConfiguration{} },
}

// Kinds lists every resource kind in display order.
func Kinds() []string {
	return []string{
		KindDeployments, KindReplicaSets, KindDaemonSets, KindStatefulSets, KindJobs, KindPods,
		KindConfigMaps, KindServices, KindIngresses,
		KindClusterRoles, KindClusterRoleBindings,
		KindValidatingWebhookConfigurations, KindMutatingWebhookConfigurations,
	}
}

// IsKnownKind reports whether kind is a supported resource kind.
func IsKnownKind(kind string) bool {
	_, ok := factories[kind]
	return ok
}

// Decode rebuilds a typed projection of the given kind from JSON.
func Decode(kind string, data []byte) (Object, error) {
	factory, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("unknown resource kind %q", kind)
	}
	obj := factory()
	if err := json.Unmarshal(data, obj); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return obj, nil
}

// DecodeList rebuilds typed projections from a JSON array.
func DecodeList(kind string, data []byte) ([]Object, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s list: %w", kind, err)
	}
	items := make([]Object, 0, len(raw))
	for _, r := range raw {
		obj, err := Decode(kind, r)
		if err != nil {
			return nil, err
		}
		items = append(items, obj)
	}
	return items, nil
}

// StatusOf returns the derived status of obj, or "" when the kind has none.
func StatusOf(obj Object) status.Status {
	if s, ok := obj.(Statused); ok {
		return s.GetStatus()
	}
	return ""
}
