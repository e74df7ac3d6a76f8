// Package main is the campaignsync operator CLI. It opens the same durable
// store the mobile core uses, so queued requests and cached interactions can
// be inspected, drained and pruned from a shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kimhsiao/campaignsync/internal/app"
	"github.com/kimhsiao/campaignsync/internal/config"
	"github.com/kimhsiao/campaignsync/internal/netstate"
	"github.com/kimhsiao/campaignsync/internal/telemetry"
)

// Version is set at build time
var Version = "0.1.0"

type globalFlags struct {
	configPath string
	dataDir    string
	debug      bool
	offline    bool
	trace      bool
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var gf globalFlags

	root := &cobra.Command{
		Use:           "campaignsync",
		Short:         "Inspect and drive the offline campaign sync queue",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&gf.configPath, "config", "", "Config file (default: "+config.Path()+")")
	root.PersistentFlags().StringVar(&gf.dataDir, "data", "", "Data directory, overrides store.path")
	root.PersistentFlags().BoolVar(&gf.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&gf.offline, "offline", false, "Treat the network as unavailable")
	root.PersistentFlags().BoolVar(&gf.trace, "trace", false, "Print drain, batch and request spans to stderr")

	root.AddCommand(queueCmd(&gf))
	root.AddCommand(drainCmd(&gf))
	root.AddCommand(campaignCmd(&gf))
	root.AddCommand(sessionCmd(&gf))
	root.AddCommand(statusCmd(&gf))
	root.AddCommand(configCmd(&gf))
	return root
}

// withApp builds an App with restored state for one command and closes it
// afterwards. The reconciliation loop is not started, so nothing drains
// unless the command asks for it.
func withApp(cmd *cobra.Command, gf *globalFlags, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(gf)
	if err != nil {
		return err
	}

	status := netstate.Status{IsConnected: true, Type: netstate.TypeUnknown}
	if gf.offline {
		status = netstate.Status{IsConnected: false, Type: netstate.TypeNone}
	}
	opts := app.Options{
		Config:        cfg,
		LogOutput:     cmd.ErrOrStderr(),
		InitialStatus: status,
	}
	if gf.trace {
		opts.Telemetry = telemetry.Options{
			Enabled:    true,
			Processors: []sdktrace.SpanProcessor{newTracePrinter(cmd.ErrOrStderr())},
		}
	}
	a, err := app.New(opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	defer a.Close(context.WithoutCancel(ctx))

	if err := a.Restore(ctx); err != nil {
		return err
	}
	a.Tracker.Update(status)
	return fn(ctx, a)
}

func loadConfig(gf *globalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if gf.configPath != "" {
		cfg, err = config.LoadFile(gf.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if gf.dataDir != "" {
		cfg.Store.Path = gf.dataDir
	}
	cfg.Log.Level = "warn"
	if gf.debug {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
