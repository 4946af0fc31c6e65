// Command alarmctl is a read-only status dashboard over a store file
// written by alarmd: a bubbletea program driven by a tea.Tick, rendered
// with lipgloss and go-figure.
package main

import (
	"flag"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	figure "github.com/common-nighthawk/go-figure"

	"alarmhost/internal/model"
	"alarmhost/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")).Bold(true).Align(lipgloss.Center)
	rowStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
	armedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	ringStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	offStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Align(lipgloss.Center)
)

type tickMsg time.Time

type row struct {
	alarm model.Alarm
	rt    model.RuntimeState
}

type dashboard struct {
	storePath string
	rows      []row
	loadErr   error
}

func (d dashboard) Init() tea.Cmd {
	return tea.Batch(d.reload(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (d dashboard) reload() tea.Cmd {
	return func() tea.Msg {
		st, err := store.Open(d.storePath)
		if err != nil {
			return loadResult{err: err}
		}
		alarms := st.AllAlarms()
		rows := make([]row, 0, len(alarms))
		for id, a := range alarms {
			rt, _ := st.RuntimeState(id)
			rows = append(rows, row{alarm: a, rt: rt})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].alarm.Time < rows[j].alarm.Time })
		return loadResult{rows: rows}
	}
}

type loadResult struct {
	rows    []row
	err     error
}

func (d dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return d, tea.Batch(d.reload(), tick())
	case loadResult:
		d.rows = msg.rows
		d.loadErr = msg.err
		return d, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return d, tea.Quit
		}
	}
	return d, nil
}

func (d dashboard) View() string {
	var b strings.Builder

	heading := figure.NewFigure("alarmctl", "small", true).String()
	b.WriteString(titleStyle.Render(heading))
	b.WriteString("\n")

	if d.loadErr != nil {
		b.WriteString(errStyle.Render(fmt.Sprintf("store load error: %v", d.loadErr)))
		b.WriteString("\n\n")
	}

	if len(d.rows) == 0 {
		b.WriteString(offStyle.Render("no alarms configured"))
	}

	for _, r := range d.rows {
		style := offStyle
		switch r.rt.State {
		case model.StateArmed, model.StatePreAlarm:
			style = armedStyle
		case model.StateRinging, model.StateSnoozed:
			style = ringStyle
		}

		next := "-"
		if r.rt.NextTriggerAt != nil {
			next = r.rt.NextTriggerAt.Local().Format("Mon 15:04")
		}

		line := fmt.Sprintf("%-20s %-5s  [%-12s]  next=%-14s  snoozes=%d",
			truncate(r.alarm.Name, 20), r.alarm.Time, r.rt.State, next, r.rt.SnoozeCount)
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("Q to quit — refreshes every second from the store file"))
	return rowStyle.Render(b.String())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func main() {
	storePath := flag.String("store", "alarmhost.json", "path to the persisted alarm store")
	flag.Parse()

	p := tea.NewProgram(dashboard{storePath: *storePath}, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Println(err)
	}
}
