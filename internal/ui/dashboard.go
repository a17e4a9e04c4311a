package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trafficwatch/internal/models"

	"github.com/c2h5oh/datasize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Source is the read side of the engine rendered by the dashboard
type Source interface {
	AllPortStats() []models.PortStats
	Events() []models.Event
}

// Dashboard renders live port statistics in the terminal
type Dashboard struct {
	app    *tview.Application
	source Source

	header    *tview.TextView
	portTable *tview.Table
	eventView *tview.TextView

	refresh time.Duration
}

var portColumns = []string{"Port", "Status", "PIDs", "Process", "Conns", "Up", "Down", "Today Up", "Today Down", "Total Up", "Total Down", "Online Today", "Online Total"}

func NewDashboard(source Source, refresh time.Duration) *Dashboard {
	return &Dashboard{
		app:     tview.NewApplication(),
		source:  source,
		refresh: refresh,
	}
}

// Run blocks until the user quits or ctx is cancelled
func (d *Dashboard) Run(ctx context.Context) error {
	d.setupUI()
	d.render()

	go func() {
		ticker := time.NewTicker(d.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				d.app.Stop()
				return
			case <-ticker.C:
				d.app.QueueUpdateDraw(d.render)
			}
		}
	}()

	return d.app.Run()
}

func (d *Dashboard) setupUI() {
	d.header = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	d.header.SetBorder(true).
		SetTitle(" trafficwatch ")

	d.portTable = tview.NewTable().
		SetFixed(1, 1).
		SetSelectable(true, false)
	d.portTable.SetBorder(true).
		SetTitle(" Ports ")
	d.portTable.SetSelectedStyle(tcell.StyleDefault.Background(tcell.ColorDarkBlue))

	d.eventView = tview.NewTextView().
		SetDynamicColors(true)
	d.eventView.SetBorder(true).
		SetTitle(" Events ")

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.header, 3, 1, false).
		AddItem(d.portTable, 0, 2, true).
		AddItem(d.eventView, 0, 1, false)

	d.app.SetRoot(layout, true).
		SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			switch event.Key() {
			case tcell.KeyEsc:
				d.app.Stop()
				return nil
			case tcell.KeyRune:
				if event.Rune() == 'q' {
					d.app.Stop()
					return nil
				}
			}
			return event
		})
}

func (d *Dashboard) render() {
	stats := d.source.AllPortStats()

	d.header.SetText(fmt.Sprintf("[yellow]%s[white]  monitoring %d port(s)  [gray]q / Esc to quit",
		time.Now().Format("2006-01-02 15:04:05"), len(stats)))

	d.portTable.Clear()
	for col, title := range portColumns {
		d.portTable.SetCell(0, col, tview.NewTableCell(title).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false))
	}
	for i, row := range portRows(stats) {
		for col, text := range row {
			cell := tview.NewTableCell(text)
			if col == 1 {
				cell.SetTextColor(statusColor(stats[i]))
			}
			d.portTable.SetCell(i+1, col, cell)
		}
	}

	var b strings.Builder
	for _, ev := range d.source.Events() {
		fmt.Fprintf(&b, "[gray]%s[white] [aqua]%s[white] %s\n", ev.Time, ev.Source, tview.Escape(ev.Message))
	}
	d.eventView.SetText(b.String())
}

// portRows turns stats into table text, one row per port
func portRows(stats []models.PortStats) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		pids := make([]string, 0, len(s.ActivePIDs))
		for _, pid := range s.ActivePIDs {
			pids = append(pids, fmt.Sprint(pid))
		}
		rows = append(rows, []string{
			fmt.Sprint(s.Port),
			portStatus(s),
			orDash(strings.Join(pids, ",")),
			orDash(strings.Join(s.ProcessNames, ",")),
			fmt.Sprint(s.Connections),
			FormatSpeed(s.CurrentSpeedUp),
			FormatSpeed(s.CurrentSpeedDown),
			FormatBytes(s.TodayUpload),
			FormatBytes(s.TodayDownload),
			FormatBytes(s.TotalUpload),
			FormatBytes(s.TotalDownload),
			FormatDuration(s.TodayOnlineSeconds),
			FormatDuration(s.TotalOnlineSeconds),
		})
	}
	return rows
}

func portStatus(s models.PortStats) string {
	switch {
	case len(s.ActivePIDs) == 0:
		return "idle"
	case s.CurrentSpeedUp > 0 || s.CurrentSpeedDown > 0:
		return "transferring"
	default:
		return "connected"
	}
}

func statusColor(s models.PortStats) tcell.Color {
	switch portStatus(s) {
	case "transferring":
		return tcell.ColorGreen
	case "connected":
		return tcell.ColorAqua
	default:
		return tcell.ColorRed
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// FormatBytes renders a byte count for humans, e.g. "1.5 MB"
func FormatBytes(n uint64) string {
	return datasize.ByteSize(n).HumanReadable()
}

// FormatSpeed renders bytes per second
func FormatSpeed(bps float64) string {
	if bps < 0 {
		bps = 0
	}
	return FormatBytes(uint64(bps)) + "/s"
}

// FormatDuration renders seconds as H:MM:SS
func FormatDuration(seconds float64) string {
	total := int64(seconds)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, total%3600/60, total%60)
}
