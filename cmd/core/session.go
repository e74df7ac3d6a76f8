package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/campaignsync/internal/app"
	"github.com/kimhsiao/campaignsync/internal/interaction"
	"github.com/kimhsiao/campaignsync/internal/telemetry"
)

func sessionCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the signed-in user",
	}
	cmd.AddCommand(sessionSetCmd(gf))
	cmd.AddCommand(sessionLogoutCmd(gf))
	return cmd
}

func sessionSetCmd(gf *globalFlags) *cobra.Command {
	var s app.Session

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the credentials sent with every request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app.App) error {
				if err := a.SetSession(ctx, s); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session set for %s\n", s.UserID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&s.UserID, "user", "", "User id")
	cmd.Flags().StringVar(&s.Token, "token", "", "Bearer token")
	cmd.Flags().StringVar(&s.RefreshToken, "refresh-token", "", "Refresh token")
	cmd.Flags().StringVar(&s.Email, "email", "", "User email")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func sessionLogoutCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the session, the queue and the interaction cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app.App) error {
				pending := a.Queue.Size()
				if err := a.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "logged out, dropped %d queued request(s)\n", pending)
				return nil
			})
		},
	}
}

func statusCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app.App) error {
				user, err := a.UserID(ctx)
				if err != nil {
					return err
				}
				out := map[string]interface{}{
					"user":      user,
					"reconcile": a.Loop.Status(),
					"queue":     a.Queue.Stats(),
					"tracing":   telemetry.IsEnabled(),
				}
				if at := a.Interactions.LastFetched(interaction.ListKey); !at.IsZero() {
					out["campaignsFetchedAt"] = at
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}
