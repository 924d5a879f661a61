package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kubelens/kubelens/pkg/aggregate"
	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/status"
)

func sampleDeployments() []models.Object {
	return []models.Object{
		&models.Deployment{
			ObjectMeta: models.ObjectMeta{Name: "web", Namespace: "default", Cluster: "prod", Age: "3d"},
			Status:     status.Running,
			Replicas:   status.Counts{Desired: 3, Current: 3, Ready: 3, Available: 3, Updated: 3},
		},
		&models.Deployment{
			ObjectMeta: models.ObjectMeta{Name: "api", Namespace: "default", Cluster: "staging", Age: "5m"},
			Status:     status.Scaling,
			Replicas:   status.Counts{Desired: 4, Current: 2, Ready: 2, Available: 2, Updated: 2},
		},
	}
}

func TestTable(t *testing.T) {
	out := List(models.KindDeployments, sampleDeployments(), 140, DefaultTheme())

	for _, want := range []string{"CLUSTER", "NAMESPACE", "READY", "STATUS", "web", "api", "3/3", "2/4", "Scaling"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "ready: ", "wide terminals get a table")
}

func TestCardsBelowBreakpoint(t *testing.T) {
	out := List(models.KindDeployments, sampleDeployments(), 60, DefaultTheme())

	assert.Contains(t, out, "cluster: prod")
	assert.Contains(t, out, "status: Scaling")
	assert.Contains(t, out, "ready: 2/4")
	assert.NotContains(t, out, "name: ", "the name is the card title")
	assert.Equal(t, 2, strings.Count(out, "╭"), "one card per item")
}

func TestEmptyList(t *testing.T) {
	assert.Contains(t, List(models.KindPods, nil, 120, DefaultTheme()), "No pods found.")
}

func TestColumnsFor(t *testing.T) {
	for _, kind := range models.Kinds() {
		cols := ColumnsFor(kind)
		assert.NotEmpty(t, cols, kind)
		assert.Equal(t, "CLUSTER", cols[0].Title, kind)
	}

	var titles []string
	for _, c := range ColumnsFor(models.KindClusterRoles) {
		titles = append(titles, c.Title)
	}
	assert.NotContains(t, titles, "NAMESPACE", "cluster-scoped kinds have no namespace column")
}

func TestColumnValues(t *testing.T) {
	svc := &models.Service{ObjectMeta: models.ObjectMeta{Name: "db"}, Type: "ClusterIP", Ports: []string{"5432/TCP"}}
	values := map[string]string{}
	for _, c := range ColumnsFor(models.KindServices) {
		values[c.Title] = c.Value(svc)
	}
	assert.Equal(t, "<none>", values["EXTERNAL-IP"])
	assert.Equal(t, "5432/TCP", values["PORTS"])

	// a projection of the wrong kind yields empty cells, not a panic
	assert.Equal(t, "", ColumnsFor(models.KindServices)[3].Value(&models.Pod{}))
}

func TestFooter(t *testing.T) {
	out := Footer(2, 5, 93, []aggregate.Outcome{
		{Cluster: "prod", Count: 90},
		{Cluster: "edge", Error: "dial tcp: connection refused", ErrorType: "network"},
	}, DefaultTheme())

	assert.Contains(t, out, "Page 2/5 · 93 items")
	assert.Contains(t, out, "edge unavailable (network)")
	assert.NotContains(t, out, "prod unavailable")
}

func TestToast(t *testing.T) {
	n := models.Notification{NotificationType: models.NotificationError, Title: "Failed to scale web", Message: "forbidden"}
	assert.Contains(t, Toast(n, 0, DefaultTheme()), "Failed to scale web: forbidden")

	long := models.Notification{Title: strings.Repeat("x", 200)}
	out := Toast(long, 40, DefaultTheme())
	assert.Contains(t, out, "…")
	assert.Less(t, len([]rune(out)), 60)
}

func TestGrid(t *testing.T) {
	out := Grid([]string{"NAME", "SERVER"}, [][]string{{"prod", "https://prod:6443"}}, 0, DefaultTheme())
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "https://prod:6443")
}
