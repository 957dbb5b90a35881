package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cbrunker/quip"
	"github.com/cbrunker/quip/messaging"
)

func (a *app) messageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "message <uid> <text>...",
		Short: "Send a message to a friend",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return a.online(func(ctx context.Context, q *quip.Quip) error {
				msg, err := q.SendMessage(ctx, args[0], []byte(text))
				if err != nil {
					return err
				}
				if msg.GetState() == messaging.MessageStateRelayed {
					fmt.Println("📨 friend offline, message left with the directory server")
					return nil
				}
				fmt.Println("✅ delivered")
				return nil
			})
		},
	}
}

func (a *app) offerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offer <uid> <path>",
		Short: "Offer a file to a friend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.online(func(ctx context.Context, q *quip.Quip) error {
				offer, accepted, err := q.OfferFile(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if !accepted {
					fmt.Printf("🚫 %s declined %s\n", args[0], offer.Name)
					return nil
				}
				fmt.Printf("✅ offered %s (%s); keep quip serve running until it is fetched\n", offer.Name, offer.Checksum)
				return nil
			})
		},
	}
}

func (a *app) fetchCmd() *cobra.Command {
	var saveAs string
	cmd := &cobra.Command{
		Use:   "fetch <uid> <checksum>",
		Short: "Download a file a friend offered",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.online(func(ctx context.Context, q *quip.Quip) error {
				t, err := q.RetrieveFile(ctx, args[0], args[1], saveAs)
				if err != nil {
					return err
				}
				fmt.Printf("✅ saved %s (%d bytes)\n", t.Path, t.FileSize)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&saveAs, "as", "", "save under this name")
	return cmd
}

func (a *app) avatarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "avatar [path]",
		Short: "Set your avatar and send it to online friends",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var avatar []byte
			if len(args) == 1 {
				var err error
				if avatar, err = os.ReadFile(args[0]); err != nil {
					return err
				}
			}
			return a.online(func(ctx context.Context, q *quip.Quip) error {
				if err := q.RefreshFriends(ctx); err != nil {
					return err
				}
				results, err := q.SendAvatar(ctx, avatar)
				if err != nil {
					return err
				}
				for uid, ok := range results {
					mark := "✅"
					if !ok {
						mark = "❌"
					}
					fmt.Printf("%s %s\n", mark, uid)
				}
				return nil
			})
		},
	}
}
