package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"trafficwatch/internal/models"
	"trafficwatch/internal/services"
)

var exportPort int

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a port's daily statistics as CSV to stdout",
	Long:  `Reads the data file directly; it does not need a running server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !services.ValidPort(exportPort) {
			return services.ErrInvalidPort
		}

		snap := models.NewSnapshot()
		data, err := os.ReadFile(dataFile)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return err
		default:
			if snap, err = services.DecodeSnapshot(data, defaultPort); err != nil {
				return err
			}
		}

		agg := services.NewAggregator(interval)
		agg.Restore(snap)
		return services.WriteDailyCSV(cmd.OutOrStdout(), agg.DailyRecords(exportPort))
	},
}

func init() {
	exportCmd.Flags().IntVar(&exportPort, "port", 0, "Port to export")
	_ = exportCmd.MarkFlagRequired("port")
}
