package cmd

import (
	"fmt"
	"os"
	"time"

	"emperror.dev/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trafficwatch/internal/environ"
	"trafficwatch/internal/services"
)

var (
	logLevel    string
	configFile  string
	dataFile    string
	interval    time.Duration
	defaultPort int
)

var rootCmd = &cobra.Command{
	Use:   "trafficwatch",
	Short: "Per-port process traffic accounting",
	Long: `trafficwatch samples the processes owning a set of TCP ports and keeps
per-second, per-minute, daily and all-time traffic statistics for each port.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLvl, err := log.ParseLevel(logLevel)
		if err != nil {
			return errors.Wrap(err, "invalid log level")
		}
		log.SetLevel(logLvl)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level",
		environ.GetString("LOG_LEVEL", "info"),
		"Log level. One of trace, debug, info, warn, error.",
	)
	rootCmd.PersistentFlags().StringVar(&configFile, "config",
		environ.GetString("CONFIG_FILE", "config.json"),
		"File holding the monitored port list",
	)
	rootCmd.PersistentFlags().StringVar(&dataFile, "data",
		environ.GetString("DATA_FILE", "traffic_stats.json"),
		"File the traffic statistics are persisted to",
	)
	rootCmd.PersistentFlags().DurationVar(&interval, "interval",
		environ.GetDuration("UPDATE_INTERVAL", services.DefaultInterval),
		"Sampling period",
	)
	rootCmd.PersistentFlags().IntVar(&defaultPort, "default-port",
		environ.GetInt("DEFAULT_PORT", 7788),
		"Port monitored when no config exists; also receives legacy single-port data",
	)

	rootCmd.AddCommand(serveCmd, tuiCmd, exportCmd, tokenCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newEngine wires the engine to the configured files
func newEngine() (*services.Engine, *services.FilePortStore, error) {
	portStore := services.NewFilePortStore(configFile, defaultPort)
	ports, err := portStore.LoadPorts()
	if err != nil {
		log.WithError(err).Warn("using default port")
		ports = []int{defaultPort}
	}

	engine, err := services.NewEngine(services.EngineOptions{
		Interval:  interval,
		Ports:     ports,
		Snapshots: services.NewFileSnapshotStore(dataFile, defaultPort),
		PortStore: portStore,
	})
	if err != nil {
		return nil, nil, err
	}
	log.WithFields(log.Fields{"ports": ports, "data": dataFile}).Info("engine ready")
	return engine, portStore, nil
}
