package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cbrunker/quip"
)

func (a *app) friendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "friend",
		Short: "Manage friends",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "request <uid> <message>...",
			Short: "Ask someone to become a friend",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.online(func(ctx context.Context, q *quip.Quip) error {
					ok, err := q.SendFriendRequest(ctx, args[0], strings.Join(args[1:], " "))
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("directory server refused the request")
					}
					fmt.Println("✅ request sent")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "accept <uid>",
			Short: "Accept a friend request",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.online(func(ctx context.Context, q *quip.Quip) error {
					if _, err := q.FriendRequests(ctx); err != nil {
						return err
					}
					res, err := q.CompleteFriendship(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Printf("🤝 now friends with %s\n", res.UID)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List friends and their presence",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.online(func(ctx context.Context, q *quip.Quip) error {
					if err := q.RefreshFriends(ctx); err != nil {
						return err
					}
					for _, p := range q.Friends() {
						status := "offline"
						if p.IsOnline() {
							status = p.Status.String()
						}
						fmt.Printf("%s  %-9s %s\n", p.UID, status, p.Address)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "remove <uid>",
			Short: "Remove a friend and revoke their access",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.online(func(ctx context.Context, q *quip.Quip) error {
					if err := q.Unfriend(ctx, args[0]); err != nil {
						return err
					}
					fmt.Printf("✅ removed %s\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

func (a *app) requestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requests",
		Short: "List pending friend requests and file offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.online(func(ctx context.Context, q *quip.Quip) error {
				reqs, err := q.FriendRequests(ctx)
				if err != nil {
					return err
				}
				fmt.Println("Friend requests:")
				for _, r := range reqs {
					fmt.Printf("  %s  %s\n", r.UID, r.Message)
				}

				offers, err := q.FileOffers(false)
				if err != nil {
					return err
				}
				fmt.Println("File offers:")
				for _, o := range offers {
					uid := o.Mask
					for _, p := range q.Friends() {
						if p.Mask == o.Mask {
							uid = p.UID
						}
					}
					fmt.Printf("  %s  %s (%d bytes) %s\n", uid, o.Name, o.Size, o.Checksum)
				}
				return nil
			})
		},
	}
}
