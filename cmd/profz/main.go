// Command profz runs a demo workload under the profiler and inspects
// stored reports.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/zoobzio/profz/config"
)

type options struct {
	configPath string
	dbPath     string
}

func main() {
	os.Exit(run())
}

func run() int {
	klog.InitFlags(nil)
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "profz",
		Short:         "Call-tree profiler reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			cmd.Flags().VisitAll(func(f *pflag.Flag) {
				klog.V(4).InfoS("Flag", "name", f.Name, "value", f.Value.String())
			})
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML config file")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "Report database (overrides store.path)")
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	root.AddCommand(
		newDemoCommand(opts),
		newShowCommand(opts),
		newTopCommand(opts),
		newServeCommand(opts),
	)
	return root
}

// load resolves the configuration with the --db flag applied last.
func (o *options) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.dbPath != "" {
		cfg.Store.Path = o.dbPath
	}
	return cfg, nil
}
