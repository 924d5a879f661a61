// Package cli implements kubelensctl, the terminal client for a Kubelens
// server.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kubelens/kubelens/pkg/backend"
	"github.com/kubelens/kubelens/pkg/cliconfig"
	"github.com/kubelens/kubelens/pkg/render"
)

type RootOptions struct {
	configPath string
	server     string
	token      string
	verbose    bool
	quiet      bool
}

var rootOptions RootOptions

// app is the state shared by every command, built in PersistentPreRunE.
type app struct {
	config *cliconfig.Manager
	logger *slog.Logger
	theme  *render.Theme
	out    io.Writer
	client *backend.Client
}

var current *app

var rootCmd = &cobra.Command{
	Use:   "kubelensctl",
	Short: "Browse and manage Kubernetes resources across clusters",
	Long: `kubelensctl talks to a Kubelens server. It lists resources from every
cluster you can reach, merges them into one view and runs actions such as
scale, restart, edit and delete.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootOptions.configPath, "config", "", "config file (default: ~/.kubelens/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootOptions.server, "server", "", "Kubelens server URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&rootOptions.token, "token", "", "bearer token (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&rootOptions.verbose, "verbose", "v", false, "log HTTP requests")
	rootCmd.PersistentFlags().BoolVarP(&rootOptions.quiet, "quiet", "q", false, "only log warnings and errors")
}

func setup(cmd *cobra.Command, args []string) error {
	log.SetReportTimestamp(false)
	switch {
	case rootOptions.verbose:
		log.SetLevel(log.DebugLevel)
	case rootOptions.quiet:
		log.SetLevel(log.WarnLevel)
	}

	mgr, err := cliconfig.NewManager(rootOptions.configPath)
	if err != nil {
		return err
	}
	current = &app{
		config: mgr,
		logger: slog.New(log.Default()),
		theme:  render.DefaultTheme(),
		out:    cmd.OutOrStdout(),
	}
	return nil
}

// Execute runs the root command.
func Execute(version string) error {
	rootCmd.Version = version
	return rootCmd.Execute()
}

func serverURL() string {
	if rootOptions.server != "" {
		return rootOptions.server
	}
	return current.config.Server()
}

// backend returns the backend client, creating it on first use.
func (a *app) backend() (*backend.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	token := rootOptions.token
	if token == "" {
		token = a.config.Token()
	}
	c, err := backend.NewClient(backend.Config{
		BaseURL:    serverURL(),
		Token:      token,
		MaxRetries: a.config.Retries(),
		Logger:     a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

// authed returns the backend client and fails early when no token is set.
func (a *app) authed() (*backend.Client, error) {
	c, err := a.backend()
	if err != nil {
		return nil, err
	}
	if c.Token() == "" {
		return nil, errors.New("not signed in, run 'kubelensctl login' first")
	}
	return c, nil
}

// explain turns common API failures into actionable messages.
func explain(err error) error {
	switch {
	case err == nil:
		return nil
	case backend.IsUnauthorized(err):
		return fmt.Errorf("%w (session expired? run 'kubelensctl login')", err)
	case backend.IsForbidden(err):
		return fmt.Errorf("%w (your role does not allow this action)", err)
	case backend.IsConflict(err):
		return fmt.Errorf("%w (the object changed on the server, fetch it again)", err)
	}
	return err
}

// width returns the terminal width, 0 when stdout is not a terminal.
func width() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return w
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func renderGrid(headers []string, rows [][]string) string {
	return render.Grid(headers, rows, width(), current.theme)
}
