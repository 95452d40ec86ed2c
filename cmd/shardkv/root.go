package main

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"

	"github.com/dreamware/shardkv/internal/cluster"
	"github.com/dreamware/shardkv/internal/config"
	"github.com/dreamware/shardkv/internal/logging"
	"github.com/dreamware/shardkv/internal/metrics"
)

// document is the value type the CLI stores: any JSON object.
type document = map[string]any

// app holds the state shared by every subcommand of one invocation.
type app struct {
	v        *viper.Viper
	confFile string
	conf     config.Config
	log      *slog.Logger

	meterProvider metric.MeterProvider
	shutdown      []func() error
}

// flagBindings maps persistent flag names onto config keys
var flagBindings = map[string]string{
	"shards":       "shards",
	"log-level":    "log.level",
	"log-json":     "log.json",
	"metrics-addr": "metrics.addr",
}

func newRootCommand() *cobra.Command {
	a := &app{v: config.NewViper()}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:           "shardkv",
		Short:         "In-memory sharded key-value store",
		Long:          `shardkv partitions records over a resizable set of in-memory shards, with a global index for constant time lookups.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.confFile, "conf", "", "YAML configuration file")
	flags.Int("shards", defaults.Shards, "Initial number of shards")
	flags.String("log-level", defaults.Log.Level, "Log level: debug, info, warn or error")
	flags.BoolP("log-json", "j", defaults.Log.JSON, "Print logs in JSON format")
	flags.String("metrics-addr", defaults.Metrics.Addr, "Bind address for the Prometheus /metrics endpoint, empty to disable")

	cmd.AddCommand(
		newShellCommand(a),
		newLoadCommand(a),
		newDemoCommand(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	for name, key := range flagBindings {
		if err := a.v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(name)); err != nil {
			return errors.Wrapf(err, "failed to bind flag --%s", name)
		}
	}

	conf, err := config.Load(a.v, a.confFile)
	if err != nil {
		return err
	}
	a.conf = conf
	a.log = logging.ConfigureLogger(cmd.ErrOrStderr(), conf.LogLevel(), conf.Log.JSON)

	if conf.Metrics.Addr == "" {
		return nil
	}

	registry := promclient.NewRegistry()
	provider, err := metrics.NewProvider(registry)
	if err != nil {
		return err
	}
	a.shutdown = append(a.shutdown, func() error {
		return provider.Shutdown(context.Background())
	})

	server, err := metrics.Start(conf.Metrics.Addr, registry)
	if err != nil {
		return multierr.Append(err, a.close())
	}
	a.shutdown = append(a.shutdown, server.Close)
	a.meterProvider = provider
	return nil
}

// newCluster builds a cluster from the loaded configuration and schedules it
// for closing with the rest of the invocation.
func (a *app) newCluster() (*cluster.Cluster[document], error) {
	opts := []cluster.Option{cluster.WithLogger(a.log)}
	if a.meterProvider != nil {
		opts = append(opts, cluster.WithMeterProvider(a.meterProvider))
	}

	c, err := cluster.New[document](a.conf.Shards, opts...)
	if err != nil {
		return nil, err
	}
	a.shutdown = append(a.shutdown, c.Close)
	return c, nil
}

// close releases everything acquired by setup and newCluster, in reverse
// order of acquisition.
func (a *app) close() error {
	var err error
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.shutdown[i]())
	}
	a.shutdown = nil
	return err
}
