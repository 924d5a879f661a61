package k8s

import (
	"fmt"
	"sort"
	"strings"
	"time"

	admissionv1 "k8s.io/api/admissionregistration/v1"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/utils/ptr"

	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/status"
)

func fromUnstructured[T any](u *unstructured.Unstructured) (*T, error) {
	var obj T
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func metaOf(kind string, om metav1.ObjectMeta) models.ObjectMeta {
	created := om.CreationTimestamp.Time
	return models.ObjectMeta{
		Kind:        kind,
		Name:        om.Name,
		Namespace:   om.Namespace,
		UID:         string(om.UID),
		CreatedAt:   created,
		Age:         formatAge(created),
		Labels:      om.Labels,
		Annotations: stripLastApplied(om.Annotations),
	}
}

// stripLastApplied drops the client-side apply annotation, which repeats the
// whole object.
func stripLastApplied(annotations map[string]string) map[string]string {
	const lastApplied = "kubectl.kubernetes.io/last-applied-configuration"
	if _, ok := annotations[lastApplied]; !ok {
		return annotations
	}
	out := make(map[string]string, len(annotations)-1)
	for k, v := range annotations {
		if k != lastApplied {
			out[k] = v
		}
	}
	return out
}

func ownerOf(om metav1.ObjectMeta) string {
	for _, ref := range om.OwnerReferences {
		if ref.Controller != nil && *ref.Controller {
			return ref.Kind + "/" + ref.Name
		}
	}
	if len(om.OwnerReferences) > 0 {
		ref := om.OwnerReferences[0]
		return ref.Kind + "/" + ref.Name
	}
	return ""
}

func imagesOf(spec corev1.PodSpec) []string {
	images := make([]string, 0, len(spec.Containers))
	for _, c := range spec.Containers {
		images = append(images, c.Image)
	}
	return images
}

func conditionsOf[C any](conds []C, get func(C) status.Condition) []status.Condition {
	if len(conds) == 0 {
		return nil
	}
	out := make([]status.Condition, len(conds))
	for i, c := range conds {
		out[i] = get(c)
	}
	return out
}

func projectDeployment(u *unstructured.Unstructured) (models.Object, error) {
	d, err := fromUnstructured[appsv1.Deployment](u)
	if err != nil {
		return nil, err
	}
	counts := status.Counts{
		Desired:   ptr.Deref(d.Spec.Replicas, 1),
		Current:   d.Status.Replicas,
		Ready:     d.Status.ReadyReplicas,
		Available: d.Status.AvailableReplicas,
		Updated:   d.Status.UpdatedReplicas,
	}
	conds := conditionsOf(d.Status.Conditions, func(c appsv1.DeploymentCondition) status.Condition {
		return status.Condition{Type: string(c.Type), Status: string(c.Status), Reason: c.Reason, Message: c.Message}
	})
	return &models.Deployment{
		ObjectMeta: metaOf("Deployment", d.ObjectMeta),
		Status:     status.Deployment(counts, conds),
		Replicas:   counts,
		Images:     imagesOf(d.Spec.Template.Spec),
		Strategy:   string(d.Spec.Strategy.Type),
		Conditions: conds,
	}, nil
}

func projectReplicaSet(u *unstructured.Unstructured) (models.Object, error) {
	rs, err := fromUnstructured[appsv1.ReplicaSet](u)
	if err != nil {
		return nil, err
	}
	counts := status.Counts{
		Desired:   ptr.Deref(rs.Spec.Replicas, 1),
		Current:   rs.Status.Replicas,
		Ready:     rs.Status.ReadyReplicas,
		Available: rs.Status.AvailableReplicas,
		Updated:   rs.Status.FullyLabeledReplicas,
	}
	conds := conditionsOf(rs.Status.Conditions, func(c appsv1.ReplicaSetCondition) status.Condition {
		return status.Condition{Type: string(c.Type), Status: string(c.Status), Reason: c.Reason, Message: c.Message}
	})
	return &models.ReplicaSet{
		ObjectMeta: metaOf("ReplicaSet", rs.ObjectMeta),
		Status:     status.ReplicaSet(counts, conds),
		Replicas:   counts,
		Owner:      ownerOf(rs.ObjectMeta),
		Images:     imagesOf(rs.Spec.Template.Spec),
		Conditions: conds,
	}, nil
}

func projectDaemonSet(u *unstructured.Unstructured) (models.Object, error) {
	ds, err := fromUnstructured[appsv1.DaemonSet](u)
	if err != nil {
		return nil, err
	}
	counts := status.Counts{
		Desired:   ds.Status.DesiredNumberScheduled,
		Current:   ds.Status.CurrentNumberScheduled,
		Ready:     ds.Status.NumberReady,
		Available: ds.Status.NumberAvailable,
		Updated:   ds.Status.UpdatedNumberScheduled,
	}
	return &models.DaemonSet{
		ObjectMeta:   metaOf("DaemonSet", ds.ObjectMeta),
		Status:       status.DaemonSet(counts),
		Replicas:     counts,
		Misscheduled: ds.Status.NumberMisscheduled,
		NodeSelector: ds.Spec.Template.Spec.NodeSelector,
		Images:       imagesOf(ds.Spec.Template.Spec),
	}, nil
}

func projectStatefulSet(u *unstructured.Unstructured) (models.Object, error) {
	sts, err := fromUnstructured[appsv1.StatefulSet](u)
	if err != nil {
		return nil, err
	}
	counts := status.Counts{
		Desired:   ptr.Deref(sts.Spec.Replicas, 1),
		Current:   sts.Status.Replicas,
		Ready:     sts.Status.ReadyReplicas,
		Available: sts.Status.AvailableReplicas,
		Updated:   sts.Status.UpdatedReplicas,
	}
	return &models.StatefulSet{
		ObjectMeta:      metaOf("StatefulSet", sts.ObjectMeta),
		Status:          status.StatefulSet(counts, sts.Status.CurrentRevision, sts.Status.UpdateRevision),
		Replicas:        counts,
		ServiceName:     sts.Spec.ServiceName,
		CurrentRevision: sts.Status.CurrentRevision,
		UpdateRevision:  sts.Status.UpdateRevision,
		Images:          imagesOf(sts.Spec.Template.Spec),
	}, nil
}

func projectJob(u *unstructured.Unstructured) (models.Object, error) {
	job, err := fromUnstructured[batchv1.Job](u)
	if err != nil {
		return nil, err
	}
	completions := ptr.Deref(job.Spec.Completions, 1)
	conds := conditionsOf(job.Status.Conditions, func(c batchv1.JobCondition) status.Condition {
		return status.Condition{Type: string(c.Type), Status: string(c.Status), Reason: c.Reason, Message: c.Message}
	})
	state := status.JobState{
		Completions: completions,
		Succeeded:   job.Status.Succeeded,
		Failed:      job.Status.Failed,
		Active:      job.Status.Active,
		Suspended:   ptr.Deref(job.Spec.Suspend, false),
		Conditions:  conds,
	}

	var duration string
	if job.Status.StartTime != nil {
		end := time.Now()
		if job.Status.CompletionTime != nil {
			end = job.Status.CompletionTime.Time
		}
		duration = formatDuration(end.Sub(job.Status.StartTime.Time))
	}

	return &models.Job{
		ObjectMeta:  metaOf("Job", job.ObjectMeta),
		Status:      status.Job(state),
		Completions: fmt.Sprintf("%d/%d", job.Status.Succeeded, completions),
		Succeeded:   job.Status.Succeeded,
		Failed:      job.Status.Failed,
		Active:      job.Status.Active,
		Suspended:   state.Suspended,
		Duration:    duration,
		Owner:       ownerOf(job.ObjectMeta),
		Conditions:  conds,
	}, nil
}

func projectPod(u *unstructured.Unstructured) (models.Object, error) {
	pod, err := fromUnstructured[corev1.Pod](u)
	if err != nil {
		return nil, err
	}

	state := status.PodState{
		Phase:           string(pod.Status.Phase),
		Deleting:        pod.DeletionTimestamp != nil,
		TotalContainers: len(pod.Spec.Containers),
	}
	var restarts int32
	containers := make([]models.ContainerInfo, 0, len(pod.Status.ContainerStatuses))
	for _, cs := range pod.Status.ContainerStatuses {
		info := models.ContainerInfo{
			Name:         cs.Name,
			Image:        cs.Image,
			Ready:        cs.Ready,
			RestartCount: cs.RestartCount,
		}
		switch {
		case cs.State.Running != nil:
			info.State = "running"
		case cs.State.Waiting != nil:
			info.State = "waiting"
			info.Reason = cs.State.Waiting.Reason
			state.WaitingReasons = append(state.WaitingReasons, cs.State.Waiting.Reason)
		case cs.State.Terminated != nil:
			info.State = "terminated"
			info.Reason = cs.State.Terminated.Reason
		}
		if cs.Ready {
			state.ReadyContainers++
		}
		restarts += cs.RestartCount
		containers = append(containers, info)
	}
	for _, cs := range pod.Status.InitContainerStatuses {
		if cs.State.Waiting != nil {
			state.WaitingReasons = append(state.WaitingReasons, cs.State.Waiting.Reason)
		}
	}

	return &models.Pod{
		ObjectMeta: metaOf("Pod", pod.ObjectMeta),
		Status:     status.Pod(state),
		Phase:      string(pod.Status.Phase),
		Ready:      fmt.Sprintf("%d/%d", state.ReadyContainers, state.TotalContainers),
		Restarts:   restarts,
		Node:       pod.Spec.NodeName,
		PodIP:      pod.Status.PodIP,
		Owner:      ownerOf(pod.ObjectMeta),
		Containers: containers,
	}, nil
}

func projectConfigMap(u *unstructured.Unstructured) (models.Object, error) {
	cm, err := fromUnstructured[corev1.ConfigMap](u)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(cm.Data)+len(cm.BinaryData))
	for k := range cm.Data {
		keys = append(keys, k)
	}
	for k := range cm.BinaryData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &models.ConfigMap{
		ObjectMeta: metaOf("ConfigMap", cm.ObjectMeta),
		DataKeys:   keys,
		DataCount:  len(keys),
		Immutable:  ptr.Deref(cm.Immutable, false),
	}, nil
}

func projectService(u *unstructured.Unstructured) (models.Object, error) {
	svc, err := fromUnstructured[corev1.Service](u)
	if err != nil {
		return nil, err
	}

	ports := make([]string, 0, len(svc.Spec.Ports))
	for _, p := range svc.Spec.Ports {
		if p.NodePort != 0 {
			ports = append(ports, fmt.Sprintf("%d:%d/%s", p.Port, p.NodePort, p.Protocol))
		} else {
			ports = append(ports, fmt.Sprintf("%d/%s", p.Port, p.Protocol))
		}
	}

	var external []string
	for _, ing := range svc.Status.LoadBalancer.Ingress {
		if ing.IP != "" {
			external = append(external, ing.IP)
		} else if ing.Hostname != "" {
			external = append(external, ing.Hostname)
		}
	}
	external = append(external, svc.Spec.ExternalIPs...)
	if svc.Spec.Type == corev1.ServiceTypeExternalName {
		external = append(external, svc.Spec.ExternalName)
	}

	return &models.Service{
		ObjectMeta: metaOf("Service", svc.ObjectMeta),
		Type:       string(svc.Spec.Type),
		ClusterIP:  svc.Spec.ClusterIP,
		ExternalIP: strings.Join(external, ","),
		Ports:      ports,
		Selector:   svc.Spec.Selector,
	}, nil
}

func projectIngress(u *unstructured.Unstructured) (models.Object, error) {
	ing, err := fromUnstructured[networkingv1.Ingress](u)
	if err != nil {
		return nil, err
	}

	class := ptr.Deref(ing.Spec.IngressClassName, "")
	if class == "" {
		class = ing.Annotations["kubernetes.io/ingress.class"]
	}

	var hosts, paths []string
	for _, rule := range ing.Spec.Rules {
		if rule.Host != "" {
			hosts = append(hosts, rule.Host)
		}
		if rule.HTTP == nil {
			continue
		}
		for _, p := range rule.HTTP.Paths {
			target := ""
			if p.Backend.Service != nil {
				target = p.Backend.Service.Name
				if p.Backend.Service.Port.Number != 0 {
					target = fmt.Sprintf("%s:%d", target, p.Backend.Service.Port.Number)
				} else if p.Backend.Service.Port.Name != "" {
					target += ":" + p.Backend.Service.Port.Name
				}
			}
			paths = append(paths, rule.Host+p.Path+" -> "+target)
		}
	}

	var addresses []string
	for _, lb := range ing.Status.LoadBalancer.Ingress {
		if lb.IP != "" {
			addresses = append(addresses, lb.IP)
		} else if lb.Hostname != "" {
			addresses = append(addresses, lb.Hostname)
		}
	}

	return &models.Ingress{
		ObjectMeta: metaOf("Ingress", ing.ObjectMeta),
		Class:      class,
		Hosts:      hosts,
		Address:    strings.Join(addresses, ","),
		Paths:      paths,
		TLS:        len(ing.Spec.TLS) > 0,
	}, nil
}

func projectClusterRole(u *unstructured.Unstructured) (models.Object, error) {
	role, err := fromUnstructured[rbacv1.ClusterRole](u)
	if err != nil {
		return nil, err
	}
	return &models.ClusterRole{
		ObjectMeta: metaOf("ClusterRole", role.ObjectMeta),
		RuleCount:  len(role.Rules),
		Aggregated: role.AggregationRule != nil,
		IsSystem:   isSystemRole(role.Name) || role.Labels["kubernetes.io/bootstrapping"] == "rbac-defaults",
	}, nil
}

func projectClusterRoleBinding(u *unstructured.Unstructured) (models.Object, error) {
	crb, err := fromUnstructured[rbacv1.ClusterRoleBinding](u)
	if err != nil {
		return nil, err
	}
	subjects := make([]models.Subject, 0, len(crb.Subjects))
	for _, s := range crb.Subjects {
		subjects = append(subjects, models.Subject{Kind: s.Kind, Name: s.Name, Namespace: s.Namespace})
	}
	return &models.ClusterRoleBinding{
		ObjectMeta: metaOf("ClusterRoleBinding", crb.ObjectMeta),
		RoleRef:    crb.RoleRef.Kind + "/" + crb.RoleRef.Name,
		Subjects:   subjects,
		IsSystem:   isSystemRole(crb.Name) || crb.Labels["kubernetes.io/bootstrapping"] == "rbac-defaults",
	}, nil
}

// isSystemRole reports whether a role ships with Kubernetes or a CNI.
func isSystemRole(name string) bool {
	for _, prefix := range []string{"system:", "kubeadm:", "calico-", "cilium-"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return name == "cluster-admin" || name == "admin" || name == "edit" || name == "view"
}

func webhookTarget(cfg admissionv1.WebhookClientConfig) string {
	if cfg.URL != nil {
		return *cfg.URL
	}
	if cfg.Service == nil {
		return ""
	}
	target := cfg.Service.Namespace + "/" + cfg.Service.Name
	if cfg.Service.Port != nil {
		target = fmt.Sprintf("%s:%d", target, *cfg.Service.Port)
	}
	return target + ptr.Deref(cfg.Service.Path, "")
}

func failurePolicy(p *admissionv1.FailurePolicyType) string {
	if p == nil {
		return string(admissionv1.Fail)
	}
	return string(*p)
}

func projectValidatingWebhooks(u *unstructured.Unstructured) (models.Object, error) {
	cfg, err := fromUnstructured[admissionv1.ValidatingWebhookConfiguration](u)
	if err != nil {
		return nil, err
	}
	hooks := make([]models.Webhook, 0, len(cfg.Webhooks))
	for _, w := range cfg.Webhooks {
		hooks = append(hooks, models.Webhook{
			Name:          w.Name,
			FailurePolicy: failurePolicy(w.FailurePolicy),
			Target:        webhookTarget(w.ClientConfig),
			Rules:         len(w.Rules),
		})
	}
	return &models.WebhookConfiguration{
		ObjectMeta: metaOf("ValidatingWebhookConfiguration", cfg.ObjectMeta),
		Type:       "Validating",
		Webhooks:   hooks,
	}, nil
}

func projectMutatingWebhooks(u *unstructured.Unstructured) (models.Object, error) {
	cfg, err := fromUnstructured[admissionv1.MutatingWebhookConfiguration](u)
	if err != nil {
		return nil, err
	}
	hooks := make([]models.Webhook, 0, len(cfg.Webhooks))
	for _, w := range cfg.Webhooks {
		hooks = append(hooks, models.Webhook{
			Name:          w.Name,
			FailurePolicy: failurePolicy(w.FailurePolicy),
			Target:        webhookTarget(w.ClientConfig),
			Rules:         len(w.Rules),
		})
	}
	return &models.WebhookConfiguration{
		ObjectMeta: metaOf("MutatingWebhookConfiguration", cfg.ObjectMeta),
		Type:       "Mutating",
		Webhooks:   hooks,
	}, nil
}
