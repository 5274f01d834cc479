// Package cli assembles the cobra root command: flag parsing, config
// validation, and wiring into the supervisor. There are no subcommands —
// this is a single long-running daemon, not a verb-based tool.
package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"code.hybscloud.com/wlappidproxy/internal/config"
	"code.hybscloud.com/wlappidproxy/internal/logging"
	"code.hybscloud.com/wlappidproxy/internal/supervisor"
)

// Build metadata, set via -ldflags at release build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var flags struct {
	upstream       string
	downstream     string
	appID          string
	prefix         bool
	debug          bool
	connectTimeout time.Duration
}

// NewRootCommand builds the proxy's root cobra command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wlappidproxy",
		Short:         "Wayland proxy that rewrites xdg_toplevel app ids for window grouping",
		Version:       fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runE,
	}

	cmd.Flags().StringVar(&flags.upstream, "upstream", "", "path to the existing compositor socket (defaults to $XDG_RUNTIME_DIR/$WAYLAND_DISPLAY)")
	cmd.Flags().StringVar(&flags.downstream, "downstream", "", "path where the proxy socket is bound")
	cmd.Flags().StringVar(&flags.appID, "app-id", "", "application identifier to advertise for every xdg_toplevel")
	cmd.Flags().BoolVar(&flags.prefix, "prefix", false, "prepend --app-id to the client-supplied app id instead of replacing it")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "emit a per-packet diagnostic line for every relayed message")
	cmd.Flags().DurationVar(&flags.connectTimeout, "connect-timeout", 5*time.Second, "dial timeout for the per-client upstream connection")

	_ = cmd.MarkFlagRequired("downstream")
	_ = cmd.MarkFlagRequired("app-id")

	return cmd
}

func runE(cmd *cobra.Command, _ []string) error {
	logging.SetDebug(flags.debug)

	upstream, err := config.ResolveUpstreamPath(flags.upstream)
	if err != nil {
		return err
	}
	cfg := config.Config{
		UpstreamPath:   upstream,
		DownstreamPath: flags.downstream,
		AppID:          flags.appID,
		PrefixMode:     flags.prefix,
		Debug:          flags.debug,
		ConnectTimeout: flags.connectTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sup, err := supervisor.New(cfg, logging.Logger())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return sup.Run(ctx)
}
