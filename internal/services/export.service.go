package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"trafficwatch/internal/models"

	"emperror.dev/errors"
)

var csvHeader = []string{"Date", "Upload (Bytes)", "Download (Bytes)", "Online Seconds"}

// WriteDailyCSV renders daily records in the given order, one row per date
func WriteDailyCSV(w io.Writer, records []models.DailyRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	for _, rec := range records {
		row := []string{
			rec.Date,
			strconv.FormatUint(rec.Upload, 10),
			strconv.FormatUint(rec.Download, 10),
			strconv.FormatFloat(rec.OnlineSeconds, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrapf(err, "write csv row for %s", rec.Date)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

// ExportFilename is the attachment name offered for a port's CSV
func ExportFilename(port int) string {
	return fmt.Sprintf("traffic_history_port_%d.csv", port)
}
