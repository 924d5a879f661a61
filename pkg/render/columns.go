package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kubelens/kubelens/pkg/models"
)

// Column is one table column.
type Column struct {
	Title string
	Value func(models.Object) string
	// Status marks the column colored by severity
	Status bool
}

func textCol(title string, fn func(models.Object) string) Column {
	return Column{Title: title, Value: fn}
}

var (
	clusterCol   = textCol("CLUSTER", func(o models.Object) string { return o.Meta().Cluster })
	namespaceCol = textCol("NAMESPACE", func(o models.Object) string { return o.Meta().Namespace })
	nameCol      = textCol("NAME", func(o models.Object) string { return o.Meta().Name })
	ageCol       = textCol("AGE", func(o models.Object) string { return o.Meta().Age })
	statusCol    = Column{Title: "STATUS", Status: true, Value: func(o models.Object) string {
		return string(models.StatusOf(o))
	}}
)

func ratio(a, b int32) string {
	return fmt.Sprintf("%d/%d", a, b)
}

func num[N int | int32](n N) string {
	return strconv.Itoa(int(n))
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "<none>"
	}
	return strings.Join(items, ",")
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}

// as adapts a typed accessor to a Column value function.
func as[T models.Object](fn func(T) string) func(models.Object) string {
	return func(o models.Object) string {
		if t, ok := o.(T); ok {
			return fn(t)
		}
		return ""
	}
}

var kindColumns = map[string][]Column{
	models.KindDeployments: {
		clusterCol, namespaceCol, nameCol,
		textCol("READY", as(func(d *models.Deployment) string { return ratio(d.Replicas.Ready, d.Replicas.Desired) })),
		textCol("UP-TO-DATE", as(func(d *models.Deployment) string { return num(d.Replicas.Updated) })),
		textCol("AVAILABLE", as(func(d *models.Deployment) string { return num(d.Replicas.Available) })),
		statusCol, ageCol,
	},
	models.KindReplicaSets: {
		clusterCol, namespaceCol, nameCol,
		textCol("DESIRED", as(func(r *models.ReplicaSet) string { return num(r.Replicas.Desired) })),
		textCol("CURRENT", as(func(r *models.ReplicaSet) string { return num(r.Replicas.Current) })),
		textCol("READY", as(func(r *models.ReplicaSet) string { return num(r.Replicas.Ready) })),
		statusCol, ageCol,
	},
	models.KindDaemonSets: {
		clusterCol, namespaceCol, nameCol,
		textCol("DESIRED", as(func(d *models.DaemonSet) string { return num(d.Replicas.Desired) })),
		textCol("CURRENT", as(func(d *models.DaemonSet) string { return num(d.Replicas.Current) })),
		textCol("READY", as(func(d *models.DaemonSet) string { return num(d.Replicas.Ready) })),
		textCol("UP-TO-DATE", as(func(d *models.DaemonSet) string { return num(d.Replicas.Updated) })),
		statusCol, ageCol,
	},
	models.KindStatefulSets: {
		clusterCol, namespaceCol, nameCol,
		textCol("READY", as(func(s *models.StatefulSet) string { return ratio(s.Replicas.Ready, s.Replicas.Desired) })),
		statusCol, ageCol,
	},
	models.KindJobs: {
		clusterCol, namespaceCol, nameCol,
		textCol("COMPLETIONS", as(func(j *models.Job) string { return j.Completions })),
		textCol("DURATION", as(func(j *models.Job) string { return j.Duration })),
		statusCol, ageCol,
	},
	models.KindPods: {
		clusterCol, namespaceCol, nameCol,
		textCol("READY", as(func(p *models.Pod) string { return p.Ready })),
		statusCol,
		textCol("RESTARTS", as(func(p *models.Pod) string { return num(p.Restarts) })),
		textCol("NODE", as(func(p *models.Pod) string { return orNone(p.Node) })),
		ageCol,
	},
	models.KindConfigMaps: {
		clusterCol, namespaceCol, nameCol,
		textCol("DATA", as(func(c *models.ConfigMap) string { return num(c.DataCount) })),
		ageCol,
	},
	models.KindServices: {
		clusterCol, namespaceCol, nameCol,
		textCol("TYPE", as(func(s *models.Service) string { return s.Type })),
		textCol("CLUSTER-IP", as(func(s *models.Service) string { return orNone(s.ClusterIP) })),
		textCol("EXTERNAL-IP", as(func(s *models.Service) string { return orNone(s.ExternalIP) })),
		textCol("PORTS", as(func(s *models.Service) string { return listOrNone(s.Ports) })),
		ageCol,
	},
	models.KindIngresses: {
		clusterCol, namespaceCol, nameCol,
		textCol("CLASS", as(func(i *models.Ingress) string { return orNone(i.Class) })),
		textCol("HOSTS", as(func(i *models.Ingress) string { return listOrNone(i.Hosts) })),
		textCol("ADDRESS", as(func(i *models.Ingress) string { return i.Address })),
		ageCol,
	},
	models.KindClusterRoles: {
		clusterCol, nameCol,
		textCol("RULES", as(func(r *models.ClusterRole) string { return num(r.RuleCount) })),
		ageCol,
	},
	models.KindClusterRoleBindings: {
		clusterCol, nameCol,
		textCol("ROLE", as(func(b *models.ClusterRoleBinding) string { return b.RoleRef })),
		textCol("SUBJECTS", as(func(b *models.ClusterRoleBinding) string { return num(len(b.Subjects)) })),
		ageCol,
	},
	models.KindValidatingWebhookConfigurations: webhookColumns,
	models.KindMutatingWebhookConfigurations:   webhookColumns,
}

var webhookColumns = []Column{
	clusterCol, nameCol,
	textCol("WEBHOOKS", as(func(w *models.WebhookConfiguration) string { return num(len(w.Webhooks)) })),
	ageCol,
}

// ColumnsFor returns the table columns of kind.
func ColumnsFor(kind string) []Column {
	if cols, ok := kindColumns[kind]; ok {
		return cols
	}
	return []Column{clusterCol, namespaceCol, nameCol, ageCol}
}
