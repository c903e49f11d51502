package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/tphan267/pulse-relay/pkg/api"
	"github.com/tphan267/pulse-relay/pkg/relay"
)

var (
	Primary = lipgloss.Color("#22d3ee")
	Success = lipgloss.Color("#10B981")
	Warning = lipgloss.Color("#F59E0B")
	Error   = lipgloss.Color("#EF4444")
	Muted   = lipgloss.Color("#6B7280")
)

var (
	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	TypeStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)
)

var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Primary).
				Align(lipgloss.Center)

	tableCellStyle = lipgloss.NewStyle().Padding(0, 1)
)

func printError(msg string) {
	fmt.Println(ErrorStyle.Render("error: " + msg))
}

func printSuccess(msg string) {
	fmt.Println(SuccessStyle.Render(msg))
}

func printInfof(format string, args ...any) {
	fmt.Println(MutedStyle.Render(fmt.Sprintf(format, args...)))
}

// streamsView renders open streams as a table
func streamsView(streams []relay.StreamInfo, now time.Time) string {
	if len(streams) == 0 {
		return MutedStyle.Render("No live streams")
	}

	rows := make([][]string, 0, len(streams))
	for _, s := range streams {
		rows = append(rows, []string{
			string(s.StreamID),
			strconv.FormatInt(int64(s.HostID), 10),
			strconv.Itoa(s.ViewerCount),
			strconv.Itoa(s.PeakViewers),
			now.Sub(s.CreatedAt).Truncate(time.Second).String(),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Stream", "Host", "Viewers", "Peak", "Live for").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return tableCellStyle
		})
	return tbl.String()
}

func pageLine(p api.Pagination) string {
	if p.TotalPages == 0 {
		return ""
	}
	return MutedStyle.Render(fmt.Sprintf("Page %d of %d (%d streams)", p.Page, p.TotalPages, p.Total))
}

// messageLine formats one relay message for the terminal
func messageLine(msgType string, raw []byte) string {
	style := TypeStyle
	switch msgType {
	case "error", "stream_ended", "host_disconnected":
		style = WarningStyle
	case "pong":
		style = MutedStyle
	}
	return style.Render(fmt.Sprintf("%-22s", msgType)) + " " + string(raw)
}
