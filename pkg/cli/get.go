package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/kubelens/kubelens/pkg/aggregate"
	"github.com/kubelens/kubelens/pkg/backend"
	"github.com/kubelens/kubelens/pkg/k8s"
	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/notify"
	"github.com/kubelens/kubelens/pkg/render"
	"github.com/kubelens/kubelens/pkg/view"
)

const (
	defaultWatchInterval = 5 * time.Second
	watchToasts          = 3
	clearScreen          = "\033[H\033[2J"
)

type GetOptions struct {
	clusters      []string
	namespace     string
	allNamespaces bool
	search        string
	status        string
	sortBy        string
	desc          bool
	page          int
	pageSize      int
	serverSide    bool
	watch         bool
	interval      time.Duration
	cards         bool
}

var getOptions GetOptions

var getCmd = &cobra.Command{
	Use:   "get KIND",
	Short: "List resources across clusters",
	Long: `get fetches KIND from every selected cluster in parallel, merges the
results and shows one filtered, sorted page. Clusters that fail are listed
under the table and do not hide the others.

Kinds: deployments (deploy), replicasets (rs), daemonsets (ds),
statefulsets (sts), jobs, pods (po), configmaps (cm), services (svc),
ingresses (ing), clusterroles, clusterrolebindings (crb),
validatingwebhookconfigurations (vwc), mutatingwebhookconfigurations (mwc).`,
	Example: `  kubelensctl get deploy -n payments --sort status
  kubelensctl get pods -c prod,staging -s '!kube-system' --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	f := getCmd.Flags()
	f.StringSliceVarP(&getOptions.clusters, "cluster", "c", nil, "clusters to query (default: selected clusters, then all)")
	f.StringVarP(&getOptions.namespace, "namespace", "n", "", "namespace (default: config namespace)")
	f.BoolVarP(&getOptions.allNamespaces, "all-namespaces", "A", false, "list every namespace")
	f.StringVarP(&getOptions.search, "search", "s", "", "fuzzy search over name, namespace and cluster; prefix with ! to exclude")
	f.StringVar(&getOptions.status, "status", "", "only show items with this status")
	f.StringVar(&getOptions.sortBy, "sort", "", "sort by name, namespace, cluster, status, age or kind (default: age)")
	f.BoolVar(&getOptions.desc, "desc", false, "reverse the sort order")
	f.IntVarP(&getOptions.page, "page", "p", 1, "page number")
	f.IntVar(&getOptions.pageSize, "page-size", 0, "items per page (default: config page size)")
	f.BoolVar(&getOptions.serverSide, "server-side", false, "let the server fan out and page")
	f.BoolVarP(&getOptions.watch, "watch", "w", false, "refresh on changes until interrupted")
	f.DurationVar(&getOptions.interval, "interval", defaultWatchInterval, "refresh interval with --watch")
	f.BoolVar(&getOptions.cards, "cards", false, "always render cards")
	rootCmd.AddCommand(getCmd)
}

// lister produces one rendered page of a list view.
type lister struct {
	client *backend.Client
	kind   k8s.Kind
	opts   GetOptions
}

func (l *lister) query() view.Query {
	q := view.Query{
		Search:   strings.TrimSpace(l.opts.search),
		Status:   l.opts.status,
		SortBy:   l.opts.sortBy,
		Desc:     l.opts.desc,
		Page:     l.opts.page,
		PageSize: l.opts.pageSize,
	}
	if q.PageSize <= 0 {
		q.PageSize = current.config.PageSize()
	}
	return q
}

func (l *lister) namespace() string {
	if !l.kind.Namespaced || l.opts.allNamespaces {
		return ""
	}
	if l.opts.namespace != "" {
		return l.opts.namespace
	}
	return current.config.Get().Namespace
}

func (l *lister) clusters(ctx context.Context) ([]string, error) {
	if selected := splitList(l.opts.clusters); len(selected) > 0 {
		return selected, nil
	}
	if selected := current.config.Get().Clusters; len(selected) > 0 {
		return selected, nil
	}
	infos, err := l.client.Clusters(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, c := range infos {
		names = append(names, c.Name)
	}
	return names, nil
}

// fetch returns one page and the per-cluster outcomes.
func (l *lister) fetch(ctx context.Context) (*backend.ListPage, error) {
	q := l.query()
	if l.opts.serverSide {
		q.Namespace = l.namespace()
		q.Clusters = splitList(l.opts.clusters)
		if len(q.Clusters) == 0 {
			q.Clusters = current.config.Get().Clusters
		}
		return l.client.Aggregated(ctx, l.kind.Name, q)
	}

	clusters, err := l.clusters(ctx)
	if err != nil {
		return nil, err
	}
	result := l.client.ListAcross(ctx, l.kind.Name, clusters, l.namespace())
	page := view.Apply(result.Items, q)
	return &backend.ListPage{
		Items:    page.Items,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
		Pages:    page.Pages,
		Clusters: result.Outcomes,
	}, nil
}

func (l *lister) render(p *backend.ListPage, w int) string {
	t := current.theme
	body := render.List(l.kind.Name, p.Items, w, t)
	if l.opts.cards && len(p.Items) > 0 {
		body = render.Cards(l.kind.Name, p.Items, w, t)
	}
	return body + "\n" + render.Footer(p.Page, p.Pages, p.Total, p.Clusters, t)
}

func runGet(cmd *cobra.Command, args []string) error {
	kind, err := resolveKind(args[0])
	if err != nil {
		return err
	}
	if getOptions.interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	client, err := current.authed()
	if err != nil {
		return err
	}
	l := &lister{client: client, kind: kind, opts: getOptions}

	if !getOptions.watch {
		page, err := l.fetch(cmd.Context())
		if err != nil {
			return explain(err)
		}
		fmt.Fprintln(current.out, l.render(page, width()))
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watch(ctx, l)
}

// watch redraws the list every interval and whenever the server reports a
// change, and shows the newest toasts under it.
func watch(ctx context.Context, l *lister) error {
	events := make(chan backend.Event, 16)
	go func() {
		err := l.client.Subscribe(ctx, func(ev backend.Event) {
			select {
			case events <- ev:
			default:
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Warn("live updates unavailable, polling only", "err", err)
		}
	}()

	ticker := time.NewTicker(l.opts.interval)
	defer ticker.Stop()

	var toasts []models.Notification
	draw := func() {
		page, err := l.fetch(ctx)
		if ctx.Err() != nil {
			return
		}
		w := width()
		var b strings.Builder
		b.WriteString(clearScreen)
		title := fmt.Sprintf("%s · every %s · %s", l.kind.Name, l.opts.interval, time.Now().Format(time.TimeOnly))
		if err == nil {
			title += " · " + outcomesSummary(page.Clusters)
		}
		b.WriteString(current.theme.Title.Render(title))
		b.WriteString("\n")
		if err != nil {
			b.WriteString(current.theme.Label.Render("refresh failed: " + explain(err).Error()))
		} else {
			b.WriteString(l.render(page, w))
		}
		for _, n := range toasts {
			b.WriteString("\n" + render.Toast(n, w, current.theme))
		}
		fmt.Fprintln(current.out, b.String())
	}

	draw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			draw()
		case ev := <-events:
			if n, ok := toastOf(ev); ok {
				toasts = append(toasts, n)
				if len(toasts) > watchToasts {
					toasts = toasts[len(toasts)-watchToasts:]
				}
				draw()
			} else if refreshes(ev, l.kind.Name) {
				draw()
			}
		}
	}
}

func toastOf(ev backend.Event) (models.Notification, bool) {
	var n models.Notification
	if ev.Type != notify.MessageType || json.Unmarshal(ev.Data, &n) != nil {
		return n, false
	}
	return n, true
}

// refreshes reports whether ev invalidates a list of kind.
func refreshes(ev backend.Event, kind string) bool {
	switch ev.Type {
	case "kubeconfig_changed":
		return true
	case "resources_updated":
		var data struct {
			Key string `json:"key"`
		}
		if json.Unmarshal(ev.Data, &data) != nil {
			return true
		}
		return strings.HasPrefix(data.Key, "resources/"+kind+"?")
	}
	return false
}

// outcomesSummary is a one-line count of answering clusters.
func outcomesSummary(outcomes []aggregate.Outcome) string {
	ok := 0
	for _, o := range outcomes {
		if o.OK() {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d clusters", ok, len(outcomes))
}
