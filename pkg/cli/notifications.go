package cli

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/render"
)

var notificationsOptions struct {
	limit  int
	unread bool
}

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"toasts"},
	Short:   "Show recent action results",
	Args:    cobra.NoArgs,
	RunE:    runNotifications,
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read [ID...]",
	Short: "Mark notifications read, all of them when no ID is given",
	RunE:  runNotificationsRead,
}

func init() {
	notificationsCmd.Flags().IntVarP(&notificationsOptions.limit, "limit", "l", 20, "maximum number of notifications")
	notificationsCmd.Flags().BoolVarP(&notificationsOptions.unread, "unread", "u", false, "only show unread notifications")
	notificationsCmd.AddCommand(notificationsReadCmd)
	rootCmd.AddCommand(notificationsCmd)
}

func runNotifications(cmd *cobra.Command, args []string) error {
	client, err := current.authed()
	if err != nil {
		return err
	}
	list, err := client.Notifications(cmd.Context(), notificationsOptions.limit)
	if err != nil {
		return explain(err)
	}
	shown := filterUnread(list, notificationsOptions.unread)
	if len(shown) == 0 {
		fmt.Fprintln(current.out, current.theme.Label.Render("No notifications."))
		return nil
	}
	w := width()
	for _, n := range shown {
		line := render.Toast(n, w, current.theme)
		if !n.Read {
			line += current.theme.Label.Render("  " + n.ID.String())
		}
		fmt.Fprintln(current.out, line)
	}
	return nil
}

func filterUnread(list []models.Notification, unreadOnly bool) []models.Notification {
	if !unreadOnly {
		return list
	}
	var out []models.Notification
	for _, n := range list {
		if !n.Read {
			out = append(out, n)
		}
	}
	return out
}

func runNotificationsRead(cmd *cobra.Command, args []string) error {
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return fmt.Errorf("invalid notification ID %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	client, err := current.authed()
	if err != nil {
		return err
	}
	if err := client.MarkNotificationsRead(cmd.Context(), ids...); err != nil {
		return explain(err)
	}
	count, err := client.UnreadCount(cmd.Context())
	if err != nil {
		return explain(err)
	}
	log.Info("marked read", "unread", count)
	return nil
}
