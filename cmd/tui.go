package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"emperror.dev/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trafficwatch/internal/environ"
	"trafficwatch/internal/ui"
)

var tuiLogFile string

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Run the accounting engine with a terminal dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// The dashboard owns the terminal, so the log goes elsewhere.
		restore, err := redirectLog(tuiLogFile)
		if err != nil {
			return err
		}
		defer restore()

		engine, _, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		go engine.Run(ctx)

		return ui.NewDashboard(engine, engine.Interval()).Run(ctx)
	},
}

func init() {
	tuiCmd.Flags().StringVar(&tuiLogFile, "log-file",
		environ.GetString("TUI_LOG_FILE", "trafficwatch.log"),
		"File the log is appended to while the dashboard runs. Empty discards it",
	)
}

// redirectLog points the standard logger at path, or discards it when path
// is empty. The returned func restores the previous output.
func redirectLog(path string) (func(), error) {
	prev := log.StandardLogger().Out
	if path == "" {
		log.SetOutput(io.Discard)
		return func() { log.SetOutput(prev) }, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", path)
	}
	log.SetOutput(f)
	return func() {
		log.SetOutput(prev)
		_ = f.Close()
	}, nil
}
