package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cbrunker/quip"
	"github.com/cbrunker/quip/file"
	"github.com/cbrunker/quip/handshake"
	"github.com/cbrunker/quip/messaging"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/store"
)

// pollInterval is how often serve checks the directory server for friend
// requests, relayed messages and friend addresses.
const pollInterval = time.Minute

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Stay online and accept friends until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.open()
			if err != nil {
				return err
			}
			defer q.Stop()

			q.OnMessage(func(m messaging.Received) {
				fmt.Printf("[%s] %s: %s\n", m.Time.Format(time.Kitchen), m.UID, m.Message)
			})
			q.OnFileOffer(func(in file.Incoming) {
				fmt.Printf("📎 %s offers %s (%d bytes), fetch with: quip fetch %s %s\n", in.UID, in.Name, in.Size, in.UID, in.Checksum)
			})
			q.OnFriendRequest(func(req store.FriendRequest) {
				fmt.Printf("👋 friend request from %s: %s\n", req.UID, req.Message)
			})
			q.OnFriendship(func(res handshake.Result) {
				fmt.Printf("🤝 now friends with %s\n", res.UID)
			})
			q.OnAvatar(func(uid string) {
				fmt.Printf("🖼  %s changed their avatar\n", uid)
			})

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			if err := q.Login(ctx); err != nil {
				return err
			}
			if err := q.Start(ctx); err != nil {
				return err
			}
			fmt.Printf("🚀 online as %s on port %d\n", q.Identity().UID, a.options.TCPPort)

			poll(ctx, q)
			ticker := time.NewTicker(pollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					fmt.Println("\n🛑 shutting down")
					return nil
				case <-ticker.C:
					poll(ctx, q)
				}
			}
		},
	}
}

// poll pulls everything the directory server holds for us.
func poll(ctx context.Context, q *quip.Quip) {
	logger := logrus.WithField("function", "poll")
	if _, err := q.FriendRequests(ctx); err != nil {
		logger.WithError(err).Warn("Fetching friend requests failed")
	}
	if _, err := q.OfflineMessages(ctx); err != nil {
		logger.WithError(err).Warn("Fetching relayed messages failed")
	}
	if err := q.RefreshFriends(ctx); err != nil {
		logger.WithError(err).Warn("Refreshing friends failed")
	}
	if len(q.PendingAuthTokens()) > 0 {
		if _, err := q.FlushAuthTokens(ctx); err != nil {
			logger.WithError(err).Warn("Registering authorisation tokens failed")
		}
	}
}

func (a *app) idCmd() *cobra.Command {
	var qr bool
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Print your user id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.open()
			if err != nil {
				return err
			}
			defer q.Stop()

			id := q.Identity()
			if id == nil {
				return fmt.Errorf("no account yet, run quip register: %w", qerr.ErrNotLoggedIn)
			}
			fmt.Println(id.UID)
			if qr {
				qrterminal.GenerateWithConfig(id.UID, qrterminal.Config{
					Level:     qrterminal.M,
					Writer:    os.Stdout,
					BlackChar: qrterminal.BLACK,
					WhiteChar: qrterminal.WHITE,
					QuietZone: 1,
				})
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&qr, "qr", false, "also print the id as a QR code")
	return cmd
}

func (a *app) registerCmd() *cobra.Command {
	var invite string
	cmd := &cobra.Command{
		Use:   "register <alias>",
		Short: "Create an account on the directory server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.open()
			if err != nil {
				return err
			}
			defer q.Stop()
			if q.Identity() != nil {
				return errors.New("an account already exists in this store")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			acct, err := q.CreateAccount(ctx, args[0], invite)
			if err != nil {
				return err
			}
			fmt.Printf("✅ registered %s as %s\n", acct.Alias, acct.UID)
			return nil
		},
	}
	cmd.Flags().StringVar(&invite, "invite", "", "invite code")
	return cmd
}

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check the account can log in to the directory server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.online(func(ctx context.Context, q *quip.Quip) error {
				fmt.Printf("✅ logged in as %s\n", q.Identity().UID)
				return nil
			})
		},
	}
}
