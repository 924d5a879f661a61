package view

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/status"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func deployment(cluster, namespace, name string, age time.Duration, st status.Status) *models.Deployment {
	return &models.Deployment{
		ObjectMeta: models.ObjectMeta{
			Kind:      "Deployment",
			Name:      name,
			Namespace: namespace,
			Cluster:   cluster,
			CreatedAt: base.Add(-age),
		},
		Status: st,
	}
}

func fixture() []*models.Deployment {
	return []*models.Deployment{
		deployment("prod", "default", "web", 1*time.Hour, status.Running),
		deployment("prod", "default", "api", 2*time.Hour, status.Updating),
		deployment("prod", "kube-system", "coredns", 48*time.Hour, status.Running),
		deployment("staging", "default", "web", 1*time.Hour, status.Stalled),
		deployment("staging", "default", "worker", 3*time.Hour, status.Scaling),
		deployment("staging", "payments", "ledger", 5*time.Hour, status.Unavailable),
		// same timestamp as prod/default/web, exercises the tiebreak
		deployment("dev", "default", "web", 1*time.Hour, status.Running),
	}
}

func names(items []*models.Deployment) []string {
	out := make([]string, len(items))
	for i, d := range items {
		out[i] = d.Cluster + "/" + d.Namespace + "/" + d.Name
	}
	return out
}

func TestApplyDefaultSortNewestFirst(t *testing.T) {
	page := Apply(fixture(), Query{})

	assert.Equal(t, []string{
		"dev/default/web",
		"prod/default/web",
		"staging/default/web",
		"prod/default/api",
		"staging/default/worker",
		"staging/payments/ledger",
		"prod/kube-system/coredns",
	}, names(page.Items))
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, 1, page.Pages)
}

func TestFilter(t *testing.T) {
	t.Run("cluster and namespace", func(t *testing.T) {
		got := Filter(fixture(), Query{Clusters: []string{"staging"}, Namespace: "default"})
		assert.ElementsMatch(t, []string{"staging/default/web", "staging/default/worker"}, names(got))
	})

	t.Run("status is case insensitive", func(t *testing.T) {
		got := Filter(fixture(), Query{Status: "running"})
		assert.Len(t, got, 3)
	})

	t.Run("fuzzy search", func(t *testing.T) {
		got := Filter(fixture(), Query{Search: "wrk"})
		assert.Equal(t, []string{"staging/default/worker"}, names(got))
	})

	t.Run("search matches cluster", func(t *testing.T) {
		got := Filter(fixture(), Query{Search: "stag"})
		assert.Len(t, got, 3)
	})

	t.Run("negated search", func(t *testing.T) {
		got := Filter(fixture(), Query{Search: "!web"})
		for _, d := range got {
			assert.NotEqual(t, "web", d.Name)
		}
		assert.Len(t, got, 4)
	})

	t.Run("lone bang keeps everything", func(t *testing.T) {
		assert.Len(t, Filter(fixture(), Query{Search: "!"}), 7)
	})

	t.Run("input untouched", func(t *testing.T) {
		items := fixture()
		before := names(items)
		_ = Apply(items, Query{Search: "web", SortBy: SortName})
		assert.Equal(t, before, names(items))
	})
}

func TestSort(t *testing.T) {
	t.Run("by name with tiebreak", func(t *testing.T) {
		items := fixture()
		Sort(items, SortName, false)
		assert.Equal(t, "prod/default/api", names(items)[0])
		// three "web" entries share name and age; cluster breaks the tie
		assert.Equal(t, []string{"dev/default/web", "prod/default/web", "staging/default/web"}, names(items)[3:6])
	})

	t.Run("by name descending", func(t *testing.T) {
		items := fixture()
		Sort(items, SortName, true)
		assert.Equal(t, "worker", items[0].Name)
	})

	t.Run("status puts errors first", func(t *testing.T) {
		items := fixture()
		Sort(items, SortStatus, false)
		assert.Equal(t, status.Stalled, items[0].Status)
		assert.Equal(t, status.Unavailable, items[1].Status)
		assert.Equal(t, status.Running, items[len(items)-1].Status)
	})

	t.Run("age descending is oldest first", func(t *testing.T) {
		items := fixture()
		Sort(items, SortAge, true)
		assert.Equal(t, "coredns", items[0].Name)
	})
}

func TestPaginate(t *testing.T) {
	items := fixture()
	Sort(items, SortName, false)

	t.Run("covers every item once", func(t *testing.T) {
		var seen []string
		for p := 1; p <= 3; p++ {
			page := Paginate(items, p, 3)
			assert.Equal(t, 3, page.Pages)
			seen = append(seen, names(page.Items)...)
		}
		assert.Equal(t, names(items), seen)
	})

	t.Run("clamps out of range pages", func(t *testing.T) {
		page := Paginate(items, 99, 3)
		assert.Equal(t, 3, page.Page)
		assert.Len(t, page.Items, 1)

		page = Paginate(items, -1, 3)
		assert.Equal(t, 1, page.Page)
	})

	t.Run("defaults and limits", func(t *testing.T) {
		assert.Equal(t, DefaultPageSize, Paginate(items, 1, 0).PageSize)
		assert.Equal(t, MaxPageSize, Paginate(items, 1, 10000).PageSize)
	})

	t.Run("empty input has one empty page", func(t *testing.T) {
		page := Paginate([]*models.Deployment{}, 1, 10)
		assert.Equal(t, 1, page.Pages)
		assert.Empty(t, page.Items)
	})
}

func TestApplyIsIdempotent(t *testing.T) {
	queries := []Query{
		{},
		{SortBy: SortName},
		{SortBy: SortStatus, Desc: true},
		{Search: "web", SortBy: SortCluster},
		{Search: "!web", Namespace: "default"},
		{Status: "Running", SortBy: SortAge, Desc: true},
	}

	for i, q := range queries {
		t.Run(fmt.Sprintf("query-%d", i), func(t *testing.T) {
			q.PageSize = MaxPageSize
			first := Apply(fixture(), q)
			second := Apply(first.Items, q)
			assert.Equal(t, names(first.Items), names(second.Items))
			assert.Equal(t, first.Total, second.Total)
		})
	}
}

func TestApplyIsStableAcrossInputOrder(t *testing.T) {
	q := Query{SortBy: SortNamespace, PageSize: 4, Page: 2}
	want := names(Apply(fixture(), q).Items)
	require.NotEmpty(t, want)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		items := fixture()
		rng.Shuffle(len(items), func(a, b int) { items[a], items[b] = items[b], items[a] })
		assert.Equal(t, want, names(Apply(items, q).Items))
	}
}

func TestApplyMixedKinds(t *testing.T) {
	items := []models.Object{
		&models.ConfigMap{ObjectMeta: models.ObjectMeta{Kind: "ConfigMap", Name: "settings", Cluster: "prod", CreatedAt: base}},
		deployment("prod", "default", "settings-api", time.Hour, status.Running),
	}

	page := Apply(items, Query{SortBy: SortKind})
	require.Len(t, page.Items, 2)
	assert.Equal(t, "ConfigMap", page.Items[0].Meta().Kind)

	// kinds without a status never match a status filter
	assert.Len(t, Filter(items, Query{Status: "Running"}), 1)
}
