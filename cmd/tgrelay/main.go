// Package main is the entry point for the tgrelay CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flemzord/tgrelay/internal/app"
	"github.com/flemzord/tgrelay/internal/config"
	"github.com/flemzord/tgrelay/internal/journal"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tgrelay: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tgrelay [config-path]",
		Short:         "Relay HTTP POST bodies to a Telegram chat",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			return app.Run(app.RunParams{
				ConfigPath: pathArg(args),
				Version:    version,
			})
		},
	}
	root.AddCommand(versionCmd(), initCmd(), checkCmd(), journalCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("tgrelay %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [config-path]",
		Short: "Create a configuration file interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := pathArg(args)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			required := func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("required")
				}
				return nil
			}

			cfg := config.Config{ListenAddr: "127.0.0.1:8080"}
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Listen address").
						Description("host:port the relay binds to").
						Validate(required).
						Value(&cfg.ListenAddr),
					huh.NewInput().
						Title("Bot token").
						Description("from @BotFather").
						EchoMode(huh.EchoModePassword).
						Validate(required).
						Value(&cfg.BotToken),
					huh.NewInput().
						Title("Telegram username").
						Description("the account the relay delivers to, with or without @").
						Validate(required).
						Value(&cfg.Username),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, &cfg); err != nil {
				return err
			}

			fmt.Printf("Wrote %s\n", path)
			fmt.Println("The chat id is resolved on first run: start the relay, then message the bot.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [config-path]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := pathArg(args)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// The summary never includes the bot token.
			fmt.Printf("Configuration OK (%s)\n", path)
			fmt.Printf("  listen_addr: %s\n", cfg.ListenAddr)
			fmt.Printf("  username:    @%s\n", strings.TrimPrefix(cfg.Username, "@"))
			if cfg.ChatID != nil {
				fmt.Printf("  chat_id:     %d\n", *cfg.ChatID)
			} else {
				fmt.Println("  chat_id:     unresolved")
			}
			if cfg.JournalPath != "" {
				fmt.Printf("  journal:     %s\n", cfg.JournalPath)
			}
			if cfg.HeartbeatSchedule != "" {
				fmt.Printf("  heartbeat:   %s\n", cfg.HeartbeatSchedule)
			}
			return nil
		},
	}
}

func journalCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "journal [config-path]",
		Short: "Print recent delivery records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(pathArg(args))
			if err != nil {
				return err
			}
			if cfg.JournalPath == "" {
				return errors.New("journal_path is not configured")
			}

			jnl, err := journal.Open(cfg.JournalPath)
			if err != nil {
				return err
			}
			defer func() { _ = jnl.Close() }()

			entries, err := jnl.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No deliveries recorded.")
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  %-6s  chat=%d  chars=%d",
					e.CreatedAt.Format(time.RFC3339), e.Outcome, e.ChatID, e.Chars)
				if e.ParseMode != "" {
					line += "  mode=" + e.ParseMode
				}
				if e.Detail != "" {
					line += "  " + e.Detail
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of records to print")
	return cmd
}

// pathArg returns the positional config path, or the default when omitted.
func pathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return config.DefaultPath
}
