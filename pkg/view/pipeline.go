// Package view implements the list pipeline shared by every resource page:
// filter, then sort, then paginate.
//
// The pipeline is deterministic. Sorting always ends in a total-order
// tiebreak so identical input in any order yields identical output, and
// running a page's items through the same filter and sort again returns them
// unchanged.
package view

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/status"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

// Sort fields.
const (
	SortName      = "name"
	SortNamespace = "namespace"
	SortCluster   = "cluster"
	SortStatus    = "status"
	SortAge       = "age"
	SortKind      = "kind"
)

// Query describes one list view.
type Query struct {
	// Search is a fuzzy pattern over "name namespace cluster". A leading "!"
	// keeps the items that do not match.
	Search    string   `json:"search,omitempty"`
	Clusters  []string `json:"clusters,omitempty"`
	Namespace string   `json:"namespace,omitempty"`
	Status    string   `json:"status,omitempty"`
	SortBy    string   `json:"sort,omitempty"`
	// Desc reverses the primary sort field. For SortAge the natural order is
	// newest first, and Desc gives oldest first.
	Desc     bool `json:"desc,omitempty"`
	Page     int  `json:"page,omitempty"`
	PageSize int  `json:"pageSize,omitempty"`
}

// Page is the pipeline output.
type Page[T models.Object] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Pages    int `json:"pages"`
}

// Apply runs filter, sort and paginate. items is not modified.
func Apply[T models.Object](items []T, q Query) Page[T] {
	filtered := Filter(items, q)
	Sort(filtered, q.SortBy, q.Desc)
	return Paginate(filtered, q.Page, q.PageSize)
}

// Filter returns the items matching q's cluster, namespace, status and search
// criteria in a new slice.
func Filter[T models.Object](items []T, q Query) []T {
	var clusters map[string]bool
	if len(q.Clusters) > 0 {
		clusters = make(map[string]bool, len(q.Clusters))
		for _, c := range q.Clusters {
			clusters[c] = true
		}
	}

	matched := make([]T, 0, len(items))
	for _, item := range items {
		meta := item.Meta()
		if clusters != nil && !clusters[meta.Cluster] {
			continue
		}
		if q.Namespace != "" && meta.Namespace != q.Namespace {
			continue
		}
		if q.Status != "" && !strings.EqualFold(string(models.StatusOf(item)), q.Status) {
			continue
		}
		matched = append(matched, item)
	}

	return search(matched, strings.TrimSpace(q.Search))
}

func search[T models.Object](items []T, pattern string) []T {
	if pattern == "" || pattern == "!" {
		return items
	}

	negate := strings.HasPrefix(pattern, "!")
	pattern = strings.TrimPrefix(pattern, "!")

	searchStrings := make([]string, len(items))
	for i, item := range items {
		meta := item.Meta()
		searchStrings[i] = meta.Name + " " + meta.Namespace + " " + meta.Cluster
	}

	matchSet := make(map[int]bool)
	for _, m := range fuzzy.Find(pattern, searchStrings) {
		matchSet[m.Index] = true
	}

	// Keep input order; ranking by match score would make the sort stage
	// depend on the pattern.
	result := make([]T, 0, len(items))
	for i, item := range items {
		if matchSet[i] != negate {
			result = append(result, item)
		}
	}
	return result
}

// Sort orders items in place by field. Unknown fields sort by age.
func Sort[T models.Object](items []T, field string, desc bool) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if c := comparePrimary(a, b, field); c != 0 {
			if desc {
				return c > 0
			}
			return c < 0
		}
		return tiebreak(a.Meta(), b.Meta()) < 0
	})
}

func comparePrimary(a, b models.Object, field string) int {
	am, bm := a.Meta(), b.Meta()
	switch field {
	case SortName:
		return strings.Compare(am.Name, bm.Name)
	case SortNamespace:
		return strings.Compare(am.Namespace, bm.Namespace)
	case SortCluster:
		return strings.Compare(am.Cluster, bm.Cluster)
	case SortKind:
		return strings.Compare(am.Kind, bm.Kind)
	case SortStatus:
		return compareStatus(models.StatusOf(a), models.StatusOf(b))
	default:
		// Newest first.
		switch {
		case am.CreatedAt.After(bm.CreatedAt):
			return -1
		case am.CreatedAt.Before(bm.CreatedAt):
			return 1
		}
		return 0
	}
}

var severityRank = map[status.Severity]int{
	status.SeverityError:   0,
	status.SeverityWarning: 1,
	status.SeverityNeutral: 2,
	status.SeverityOK:      3,
}

// compareStatus puts the most alarming labels first, then orders by label.
func compareStatus(a, b status.Status) int {
	if ra, rb := severityRank[a.Severity()], severityRank[b.Severity()]; ra != rb {
		return ra - rb
	}
	return strings.Compare(string(a), string(b))
}

// tiebreak is a total order: newest first, then cluster, namespace, kind, name.
func tiebreak(a, b *models.ObjectMeta) int {
	switch {
	case a.CreatedAt.After(b.CreatedAt):
		return -1
	case a.CreatedAt.Before(b.CreatedAt):
		return 1
	}
	for _, pair := range [][2]string{
		{a.Cluster, b.Cluster},
		{a.Namespace, b.Namespace},
		{a.Kind, b.Kind},
		{a.Name, b.Name},
		{a.UID, b.UID},
	} {
		if c := strings.Compare(pair[0], pair[1]); c != 0 {
			return c
		}
	}
	return 0
}

// Paginate cuts one page out of items. page is 1-based; pages past the end
// clamp to the last page.
func Paginate[T models.Object](items []T, page, pageSize int) Page[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	total := len(items)
	pages := (total + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if end > total {
		end = total
	}

	out := make([]T, end-start)
	copy(out, items[start:end])
	return Page[T]{
		Items:    out,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Pages:    pages,
	}
}
