package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rampart-project/rampart/internal/cli"
	"github.com/rampart-project/rampart/internal/db"
	"github.com/rampart-project/rampart/internal/fetch"
	"github.com/rampart-project/rampart/internal/protocol"
	"github.com/rampart-project/rampart/internal/util"
)

var fetchJob fetch.Job

// fetchCmd is the download worker. The parent spawns it with the flags
// rendered by worker.JobArgs and reads the outcome from the exit code.
var fetchCmd = &cobra.Command{
	Use:    "fetch",
	Short:  "Download one clip (internal worker)",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		util.InitWorkerLogger()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		err := fetch.Run(ctx, fetchJob)
		stop()
		os.Exit(fetch.ExitCode(err))
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running sidecar's status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		apiCfg := cfg.GetAPI()
		if !apiCfg.Enabled {
			return fmt.Errorf("status API is disabled in %s", cfg.Path())
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		report, err := cli.NewClient(apiCfg.Addr()).Status(ctx)
		if err != nil {
			return err
		}
		cli.RenderStatus(cmd.OutOrStdout(), report)
		return nil
	},
}

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Manage per-player command overrides",
}

var overrideSetCmd = &cobra.Command{
	Use:   "set <guid> <command> <allow|deny>",
	Short: "Allow or deny one command for a player regardless of level",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var allowed bool
		switch strings.ToLower(args[2]) {
		case "allow", "allowed", "yes":
			allowed = true
		case "deny", "denied", "no":
		default:
			return fmt.Errorf("access must be allow or deny, got %q", args[2])
		}
		return withStore(cmd.Context(), func(ctx context.Context, store *db.Store) error {
			guid := protocol.NormalizeGUID(args[0])
			if err := store.SetCommandOverride(ctx, guid, strings.ToLower(args[1]), allowed); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Override saved for %s\n", guid)
			return nil
		})
	},
}

var overrideClearCmd = &cobra.Command{
	Use:   "clear <guid> <command>",
	Short: "Remove a command override",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *db.Store) error {
			guid := protocol.NormalizeGUID(args[0])
			removed, err := store.ClearCommandOverride(ctx, guid, strings.ToLower(args[1]))
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "No override for %s on %s\n", args[1], guid)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Override removed for %s\n", guid)
			return nil
		})
	},
}

var overrideListCmd = &cobra.Command{
	Use:   "list <guid>",
	Short: "List a player's command overrides",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *db.Store) error {
			guid := protocol.NormalizeGUID(args[0])
			list, err := store.CommandOverrides(ctx, guid)
			if err != nil {
				return err
			}
			cli.RenderOverrides(cmd.OutOrStdout(), guid, list)
			return nil
		})
	},
}

func init() {
	f := fetchCmd.Flags()
	f.StringVar(&fetchJob.URL, "url", "", "source URL")
	f.StringVar(&fetchJob.Dest, "dest", "", "destination file")
	f.Int64Var(&fetchJob.MaxBytes, "max-bytes", 0, "size limit in bytes")
	f.DurationVar(&fetchJob.Timeout, "timeout", 0, "overall download timeout")
	f.BoolVar(&fetchJob.AllowPrivate, "allow-private", false, "allow private and loopback hosts")

	overrideCmd.AddCommand(overrideSetCmd)
	overrideCmd.AddCommand(overrideClearCmd)
	overrideCmd.AddCommand(overrideListCmd)
}

// withStore opens the configured query store for one operator command.
func withStore(ctx context.Context, fn func(context.Context, *db.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dbCfg := cfg.GetDatabase()
	if !dbCfg.Enabled {
		return fmt.Errorf("query store is disabled in %s", cfg.Path())
	}

	store, err := db.Open(dbCfg.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return fn(ctx, store)
}
