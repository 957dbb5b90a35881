package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cbrunker/quip"
	"github.com/cbrunker/quip/config"
	"github.com/cbrunker/quip/limits"
)

// commandTimeout bounds one-shot commands.
const commandTimeout = 2 * time.Minute

type app struct {
	configPath string
	passphrase string
	verbose    bool
	options    *quip.Options
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "quip",
		Short:         "Friend-to-friend messaging client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "client.conf", "config file")
	root.PersistentFlags().StringVar(&a.passphrase, "passphrase", "", "store passphrase (default $QUIP_PASSPHRASE)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.serveCmd(),
		a.idCmd(),
		a.registerCmd(),
		a.loginCmd(),
		a.messageCmd(),
		a.offerCmd(),
		a.fetchCmd(),
		a.avatarCmd(),
		a.friendCmd(),
		a.requestsCmd(),
	)
	return root
}

// init loads .env, the config file and the log level.
func (a *app) init() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	opts, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.options = opts

	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "init",
			"level":    opts.LogLevel,
		}).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	if a.verbose {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	if a.passphrase == "" {
		a.passphrase = os.Getenv("QUIP_PASSPHRASE")
	}
	return nil
}

// open opens the local store and creates the client.
func (a *app) open() (*quip.Quip, error) {
	phrase := []byte(a.passphrase)
	if err := limits.ValidatePassphrase(phrase); err != nil {
		return nil, fmt.Errorf("passphrase: %w (set QUIP_PASSPHRASE or --passphrase)", err)
	}
	return quip.Open(a.options, phrase)
}

// online opens the client, logs in and runs fn, logging out afterwards.
func (a *app) online(fn func(ctx context.Context, q *quip.Quip) error) error {
	q, err := a.open()
	if err != nil {
		return err
	}
	defer q.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, commandTimeout)
	defer cancelTimeout()

	if err := q.Login(ctx); err != nil {
		return err
	}
	return fn(ctx, q)
}
