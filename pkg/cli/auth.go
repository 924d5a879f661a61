package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kubelens/kubelens/pkg/cliconfig"
)

var loginOptions struct {
	username string
	password string
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session token",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the session and forget the token",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user and session",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func init() {
	loginCmd.Flags().StringVarP(&loginOptions.username, "username", "u", "", "username (prompted when empty)")
	loginCmd.Flags().StringVarP(&loginOptions.password, "password", "p", "", "password (prompted when empty)")
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	in := bufio.NewReader(cmd.InOrStdin())
	username := loginOptions.username
	if username == "" {
		fmt.Fprint(current.out, "Username: ")
		line, err := in.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}
	password := loginOptions.password
	if password == "" {
		var err error
		if password, err = readPassword(in); err != nil {
			return err
		}
	}
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}

	client, err := current.backend()
	if err != nil {
		return err
	}
	resp, err := client.SignIn(cmd.Context(), username, password)
	if err != nil {
		return explain(err)
	}

	current.config.Update(func(c *cliconfig.Config) {
		c.Token = resp.Token
		c.Username = resp.User.Username
		if rootOptions.server != "" {
			c.Server = rootOptions.server
		}
	})
	if err := current.config.Save(); err != nil {
		return err
	}
	log.Info("signed in", "user", resp.User.Username, "role", resp.User.Role, "server", serverURL())
	return nil
}

func readPassword(in *bufio.Reader) (string, error) {
	fmt.Fprint(current.out, "Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(current.out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	client, err := current.backend()
	if err != nil {
		return err
	}
	if client.Token() != "" {
		if err := client.SignOut(cmd.Context()); err != nil {
			log.Warn("server sign-out failed, forgetting the token anyway", "err", err)
		}
	}
	current.config.Update(func(c *cliconfig.Config) {
		c.Token = ""
		c.Username = ""
	})
	if err := current.config.Save(); err != nil {
		return err
	}
	log.Info("signed out")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	client, err := current.authed()
	if err != nil {
		return err
	}
	sess, err := client.Session(cmd.Context())
	if err != nil {
		return explain(err)
	}
	if sess.User == nil {
		return errors.New("server returned no user for this session")
	}
	t := current.theme
	fmt.Fprintf(current.out, "%s %s\n", t.Label.Render("User:"), sess.User.Username)
	fmt.Fprintf(current.out, "%s %s\n", t.Label.Render("Role:"), sess.User.Role)
	if sess.Session != nil {
		fmt.Fprintf(current.out, "%s %s\n", t.Label.Render("Expires:"), sess.Session.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
	if p := sess.Preferences; p != nil && len(p.SelectedClusters) > 0 {
		fmt.Fprintf(current.out, "%s %s\n", t.Label.Render("Clusters:"), strings.Join(p.SelectedClusters, ", "))
	}
	return nil
}
