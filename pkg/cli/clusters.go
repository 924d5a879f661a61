package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/kubelens/kubelens/pkg/cliconfig"
	"github.com/kubelens/kubelens/pkg/k8s"
	"github.com/kubelens/kubelens/pkg/models"
)

var useOptions struct {
	clusters  []string
	namespace string
	pageSize  int
	all       bool
}

var clustersCmd = &cobra.Command{
	Use:     "clusters",
	Aliases: []string{"cluster", "ctx"},
	Short:   "List the clusters the server can reach",
	Args:    cobra.NoArgs,
	RunE:    runClusters,
}

var namespacesCmd = &cobra.Command{
	Use:     "namespaces CLUSTER",
	Aliases: []string{"ns"},
	Short:   "List the namespaces of a cluster",
	Args:    cobra.ExactArgs(1),
	RunE:    runNamespaces,
}

var useCmd = &cobra.Command{
	Use:   "use",
	Short: "Set the default clusters, namespace and page size",
	Long: `use stores the default cluster selection, namespace and page size in the
local config and syncs them to your server-side preferences.`,
	Args: cobra.NoArgs,
	RunE: runUse,
}

func init() {
	useCmd.Flags().StringSliceVarP(&useOptions.clusters, "cluster", "c", nil, "clusters to select (repeatable or comma separated)")
	useCmd.Flags().BoolVar(&useOptions.all, "all-clusters", false, "clear the selection and use every cluster")
	useCmd.Flags().StringVarP(&useOptions.namespace, "namespace", "n", "", "default namespace")
	useCmd.Flags().IntVar(&useOptions.pageSize, "page-size", 0, "default page size")
	rootCmd.AddCommand(clustersCmd, namespacesCmd, useCmd)
}

func clusterRows(clusters []k8s.ClusterInfo, selected []string) [][]string {
	sel := map[string]bool{}
	for _, c := range selected {
		sel[c] = true
	}
	rows := make([][]string, 0, len(clusters))
	for _, c := range clusters {
		mark := ""
		if sel[c.Name] {
			mark = "*"
		}
		state := "Unreachable"
		switch {
		case c.Healthy:
			state = "Healthy"
		case c.Reachable:
			state = "Degraded"
		}
		if c.ErrorType != "" {
			state += " (" + c.ErrorType + ")"
		}
		rows = append(rows, []string{mark, c.Name, c.Context, c.Server, state})
	}
	return rows
}

func runClusters(cmd *cobra.Command, args []string) error {
	client, err := current.authed()
	if err != nil {
		return err
	}
	clusters, err := client.Clusters(cmd.Context())
	if err != nil {
		return explain(err)
	}
	if len(clusters) == 0 {
		fmt.Fprintln(current.out, current.theme.Label.Render("No clusters configured on the server."))
		return nil
	}
	rows := clusterRows(clusters, current.config.Get().Clusters)
	fmt.Fprintln(current.out, renderGrid([]string{"", "NAME", "CONTEXT", "SERVER", "STATE"}, rows))
	return nil
}

func runNamespaces(cmd *cobra.Command, args []string) error {
	client, err := current.authed()
	if err != nil {
		return err
	}
	namespaces, err := client.Namespaces(cmd.Context(), args[0])
	if err != nil {
		return explain(err)
	}
	for _, ns := range namespaces {
		fmt.Fprintln(current.out, ns)
	}
	return nil
}

func runUse(cmd *cobra.Command, args []string) error {
	clusters := splitList(useOptions.clusters)
	if useOptions.all && len(clusters) > 0 {
		return fmt.Errorf("--cluster and --all-clusters are mutually exclusive")
	}
	if useOptions.pageSize < 0 {
		return fmt.Errorf("--page-size must not be negative")
	}

	flags := cmd.Flags()
	current.config.Update(func(c *cliconfig.Config) {
		if len(clusters) > 0 || useOptions.all {
			c.Clusters = clusters
		}
		if flags.Changed("namespace") {
			c.Namespace = strings.TrimSpace(useOptions.namespace)
		}
		if useOptions.pageSize > 0 {
			c.PageSize = useOptions.pageSize
		}
	})
	if err := current.config.Save(); err != nil {
		return err
	}

	cfg := current.config.Get()
	client, err := current.authed()
	if err != nil {
		log.Warn("saved locally, not synced", "err", err)
		return nil
	}
	_, err = client.SavePreferences(cmd.Context(), &models.Preferences{
		SelectedClusters: cfg.Clusters,
		Namespace:        cfg.Namespace,
		PageSize:         current.config.PageSize(),
	})
	if err != nil {
		log.Warn("saved locally, server preferences not updated", "err", explain(err))
		return nil
	}
	log.Info("defaults updated", "clusters", strings.Join(cfg.Clusters, ","), "namespace", cfg.Namespace)
	return nil
}
