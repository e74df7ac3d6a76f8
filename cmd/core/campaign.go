package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/campaignsync/internal/app"
	apperrors "github.com/kimhsiao/campaignsync/internal/errors"
	"github.com/kimhsiao/campaignsync/internal/models"
)

func campaignCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "campaign",
		Aliases: []string{"campaigns"},
		Short:   "Read campaigns and toggle likes or participation",
	}
	cmd.AddCommand(campaignListCmd(gf))
	cmd.AddCommand(campaignShowCmd(gf))
	cmd.AddCommand(campaignToggleCmd(gf, models.AxisLike))
	cmd.AddCommand(campaignToggleCmd(gf, models.AxisParticipation))
	return cmd
}

func campaignListCmd(gf *globalFlags) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List campaigns, from cache when fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app.App) error {
				actor, err := a.UserID(ctx)
				if err != nil {
					return err
				}
				list, fetchErr := a.Campaigns.GetList(ctx, actor, refresh)
				if len(list) == 0 && fetchErr != nil {
					return fetchErr
				}

				rows := make([][]string, len(list))
				for i, c := range list {
					rec := a.Campaigns.Interaction(c.ID)
					rows[i] = []string{
						c.ID,
						c.Title,
						strconv.Itoa(c.LikersCount),
						strconv.Itoa(c.ParticipantsCount),
						flag(rec.Liked, rec.PendingLike),
						flag(rec.Participated, rec.PendingParticipation),
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Likes", "Participants", "Liked", "Joined"},
					rows,
				))
				if fetchErr != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), warn("showing cached campaigns: "+fetchErr.Error()))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Fetch even when the cache is fresh")
	return cmd
}

func campaignShowCmd(gf *globalFlags) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "show <campaign-id>",
		Short: "Show one campaign with its interaction state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app.App) error {
				actor, err := a.UserID(ctx)
				if err != nil {
					return err
				}
				c, err := a.Campaigns.GetByID(ctx, actor, args[0], refresh)
				if err != nil && c.ID == "" {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"campaign":    c,
					"interaction": a.Campaigns.Interaction(c.ID),
				})
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Fetch even when the cache is fresh")
	return cmd
}

func campaignToggleCmd(gf *globalFlags, axis models.Axis) *cobra.Command {
	use, short := "like <campaign-id>", "Toggle the like on a campaign"
	if axis == models.AxisParticipation {
		use, short = "join <campaign-id>", "Toggle participation in a campaign"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app.App) error {
				actor, err := a.UserID(ctx)
				if err != nil {
					return err
				}
				if actor == "" {
					return apperrors.New(apperrors.ErrInvalid, "no session, run `campaignsync session set` first")
				}

				var current bool
				if rec, ok := a.Interactions.Interaction(args[0]); ok {
					current = rec.Value(axis)
				} else if c, ok := a.Interactions.Campaign(args[0]); ok {
					current = c.Has(axis, actor)
				}

				toggle := a.Campaigns.ToggleLike
				if axis == models.AxisParticipation {
					toggle = a.Campaigns.ToggleJoin
				}
				res, err := toggle(ctx, actor, args[0], current)
				if err != nil {
					return err
				}
				if res.Skipped {
					return apperrors.New(apperrors.ErrActionPending, "a previous toggle on "+args[0]+" is still pending")
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func flag(v, pending bool) string {
	s := "no"
	if v {
		s = "yes"
	}
	if pending {
		s += "*"
	}
	return s
}
