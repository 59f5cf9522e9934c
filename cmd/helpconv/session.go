package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"helpconv/internal/app"
	"helpconv/internal/session"
	"helpconv/pkg/types"
)

func newSessionCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Issue, list and end staff login sessions",
	}
	cmd.AddCommand(newSessionCreateCmd(root), newSessionListCmd(root), newSessionEndCmd(root))
	return cmd
}

// withSessions opens the stores and runs fn with a session manager.
func withSessions(root *rootOptions, cmd *cobra.Command, fn func(*session.Manager, *app.Stores) error) error {
	cfg, log, err := root.load(cmd)
	if err != nil {
		return err
	}
	stores, err := app.OpenStores(cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	m := session.NewManager(stores.Login, log,
		session.WithRequiredRole(cfg.Session.RequiredRole),
		session.WithDefaultTTL(cfg.Session.TTL))
	return fn(m, stores)
}

func newSessionCreateCmd(root *rootOptions) *cobra.Command {
	var (
		req  types.CreateLoginSessionRequest
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a login session token for a staff member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := types.ParseRole(role)
			if err != nil {
				return err
			}
			req.Role = r
			req.TTLSeconds = int(ttl / time.Second)
			return withSessions(root, cmd, func(m *session.Manager, _ *app.Stores) error {
				ls, err := m.Create(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\texpires %s\n",
					ls.Token, ls.UserID, ls.Role, ls.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.UserID, "user", "", "staff user ID")
	cmd.Flags().StringVar(&req.ScreenName, "name", "", "screen name (defaults to the user ID)")
	cmd.Flags().StringVar(&role, "role", string(types.RoleTutor), "role: tutor, instructor or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lifetime (defaults to the configured session TTL)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSessionListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active login sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(root, cmd, func(_ *session.Manager, stores *app.Stores) error {
				active, err := stores.Login.ListActiveLoginSessions(cmd.Context())
				if err != nil {
					return err
				}
				for _, ls := range active {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\texpires %s\n",
						ls.Token, ls.UserID, ls.Role, ls.ExpiresAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}

func newSessionEndCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "end TOKEN",
		Short: "End a login session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(root, cmd, func(m *session.Manager, _ *app.Stores) error {
				return m.End(cmd.Context(), args[0])
			})
		},
	}
}
