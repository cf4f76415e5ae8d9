package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	log "github.com/sirupsen/logrus"

	"teamer/commands"
	"teamer/config"
)

var (
	configFile string
	logLevel   string
)

func setLogLevel(level string) error {
	l, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(l)
	return nil
}

func checkConfig(cfg string) error {
	if cfg == "" {
		return errors.New("config file not specified")
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if err := checkConfig(configFile); err != nil {
		return nil, err
	}
	return config.NewConfigFromFile(configFile)
}

// withConfig loads the config file before running f
func withConfig(f func(ctx context.Context, cfg *config.Config, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return f(cmd.Context(), cfg, args)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "teamer",
		Short:         "LAN team presence for agar.io style clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setLogLevel(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	root.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "Log level")

	var partyPassword string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkConfig(configFile); err != nil {
				return err
			}
			return commands.RunInit(cmd.Context(), config.NewEmptyConfig(configFile), partyPassword)
		},
	}
	initCmd.Flags().StringVar(&partyPassword, "password", "", "Party server password, stored hashed")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Announce the local player and track peers on the LAN",
		Args:  cobra.NoArgs,
		RunE: withConfig(func(ctx context.Context, cfg *config.Config, args []string) error {
			return commands.RunServe(ctx, cfg)
		}),
	}

	peersCmd := &cobra.Command{
		Use:   "peers",
		Short: "Manage manually added peers",
	}

	var label string
	peersAddCmd := &cobra.Command{
		Use:   "add HOST[:PORT]",
		Short: "Add a peer to the address book",
		Args:  cobra.ExactArgs(1),
		RunE: withConfig(func(ctx context.Context, cfg *config.Config, args []string) error {
			return commands.RunPeersAdd(ctx, cfg, args[0], label)
		}),
	}
	peersAddCmd.Flags().StringVar(&label, "label", "", "Free-form label")

	peersRmCmd := &cobra.Command{
		Use:   "rm HOST[:PORT]",
		Short: "Remove a peer from the address book",
		Args:  cobra.ExactArgs(1),
		RunE: withConfig(func(ctx context.Context, cfg *config.Config, args []string) error {
			return commands.RunPeersRemove(ctx, cfg, args[0])
		}),
	}

	peersLsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List the address book",
		Args:  cobra.NoArgs,
		RunE: withConfig(func(ctx context.Context, cfg *config.Config, args []string) error {
			return commands.RunPeersList(ctx, cfg)
		}),
	}
	peersCmd.AddCommand(peersAddCmd, peersRmCmd, peersLsCmd)

	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Join a party server",
		Args:  cobra.NoArgs,
		RunE: withConfig(func(ctx context.Context, cfg *config.Config, args []string) error {
			return commands.RunSession(ctx, cfg)
		}),
	}

	partyCmd := &cobra.Command{
		Use:   "party",
		Short: "Run a party server",
		Args:  cobra.NoArgs,
		RunE: withConfig(func(ctx context.Context, cfg *config.Config, args []string) error {
			return commands.RunParty(ctx, cfg)
		}),
	}

	root.AddCommand(initCmd, serveCmd, peersCmd, sessionCmd, partyCmd)
	return root
}

// main is the entry point of the application.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}
