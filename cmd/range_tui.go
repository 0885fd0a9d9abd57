// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/zwrange/pkg/link"
	"github.com/Thermoquad/zwrange/pkg/rangetest"
	"github.com/Thermoquad/zwrange/pkg/report"
	"github.com/Thermoquad/zwrange/pkg/serialapi"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// One finished run
type runSummary struct {
	run     int
	outcome string
	level   serialapi.PowerLevel
	yield   int
	usable  bool
}

// TUI model
type rangeModel struct {
	desc   string
	helper serialapi.NodeID
	dut    serialapi.NodeID
	repeat int

	started time.Time
	run     int
	stage   string
	levels  []rangetest.LevelResult
	history []runSummary
	records []*report.Record

	stats   link.Statistics
	statsFn func() link.Statistics

	spinner  spinner.Model
	progress progress.Model

	eventLog      []eventLogEntry
	maxLogEntries int

	width    int
	height   int
	finished bool
	fatal    error
	quitting bool
}

// Messages
type tickMsg time.Time
type runStartMsg struct{ run int }
type rangeEventMsg struct{ ev rangetest.Event }
type runDoneMsg struct {
	res *rangetest.Result
	err error
	rec *report.Record
}
type loopDoneMsg struct{ err error }

// formatElapsed formats a duration as a human-friendly string
func formatElapsed(d time.Duration) string {
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func newRangeModel(s *session, rc rangetest.Config, repeat int) rangeModel {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	return rangeModel{
		desc:          s.desc,
		helper:        rc.Helper,
		dut:           rc.DUT,
		repeat:        repeat,
		started:       time.Now(),
		stage:         "Starting",
		statsFn:       s.engine.Statistics,
		spinner:       sp,
		progress:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m rangeModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m rangeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = min(60, max(10, msg.Width-30))

	case tickMsg:
		m.stats = m.statsFn()
		m.stats.CalculateRates()
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		m.progress = pm.(progress.Model)
		return m, cmd

	case runStartMsg:
		m.run = msg.run
		m.levels = nil
		m.stage = "Checking the DUT at full power"
		cmd := m.progress.SetPercent(0)
		return m, cmd

	case rangeEventMsg:
		cmd := m.handleEvent(msg.ev)
		return m, cmd

	case runDoneMsg:
		m.records = append(m.records, msg.rec)
		m.history = append(m.history, m.summarize(msg.res, msg.err, msg.rec))
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Run %d: %v", m.run, msg.err), true)
		} else if msg.res.Usable {
			m.addLogEntry(fmt.Sprintf("Run %d: min power %s, %d%% ACK", m.run, msg.res.MinLevel, msg.res.YieldPercent), false)
		} else {
			m.addLogEntry(fmt.Sprintf("Run %d: no power level passed", m.run), true)
		}
		m.stage = "Waiting for next run"

	case loopDoneMsg:
		m.finished = true
		m.fatal = msg.err
		m.stage = "Finished"
		if msg.err != nil {
			m.stage = "Stopped"
			m.addLogEntry(fmt.Sprintf("LINK ERROR: %v", msg.err), true)
		}
	}

	return m, nil
}

func (m *rangeModel) handleEvent(ev rangetest.Event) tea.Cmd {
	switch ev.Kind {
	case rangetest.EventLifeline:
		if ev.OK {
			m.addLogEntry("Lifeline removed", false)
		} else {
			m.addLogEntry("Failed to remove lifeline", true)
		}

	case rangetest.EventPreflight:
		if ev.OK {
			m.addLogEntry(fmt.Sprintf("DUT reachable at full power (%d acks)", ev.Result.Acks), false)
		}

	case rangetest.EventLevelStart:
		m.stage = fmt.Sprintf("Testing %s", ev.Level)

	case rangetest.EventLevelDone:
		m.levels = append(m.levels, *ev.Result)
		return m.progress.SetPercent(float64(ev.Index+1) / float64(ev.Total))
	}
	return nil
}

func (m *rangeModel) summarize(res *rangetest.Result, err error, rec *report.Record) runSummary {
	s := runSummary{run: m.run, outcome: rec.Outcome}
	if res != nil && err == nil {
		s.level = res.MinLevel
		s.yield = res.YieldPercent
		s.usable = res.Usable
	}
	return s
}

func (m *rangeModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m rangeModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("ZWRANGE - RANGE TEST"))
	s.WriteString("\n")
	runs := "until stopped"
	if m.repeat > 0 {
		runs = fmt.Sprintf("of %d", m.repeat)
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Helper %d -> DUT %d | Run %d %s | Press 'q' to quit",
		m.desc, m.helper, m.dut, m.run, runs)))
	s.WriteString("\n\n")

	// Stage
	if m.finished {
		if m.fatal != nil {
			s.WriteString(errorStyle.Render("✗ " + m.stage))
		} else {
			s.WriteString(valueStyle.Render("✓ " + m.stage))
		}
	} else {
		s.WriteString(m.spinner.View() + " " + warningStyle.Render(m.stage))
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("   (running %s)", formatElapsed(time.Since(m.started)))))
	s.WriteString("\n")
	s.WriteString(m.progress.View())
	s.WriteString("\n\n")

	// Levels of the current run
	levelContent := strings.Builder{}
	if len(m.levels) == 0 {
		levelContent.WriteString(headerStyle.Render("(no level tested yet)"))
	}
	for i, lr := range m.levels {
		if i > 0 {
			levelContent.WriteString("\n")
		}
		verdict := valueStyle.Render("PASS")
		if !lr.Passed {
			verdict = errorStyle.Render("FAIL")
		}
		levelContent.WriteString(fmt.Sprintf("%s %s %s",
			labelStyle.Render(fmt.Sprintf("%-7s", lr.Level)),
			fmt.Sprintf("%2d acks", lr.Acks),
			verdict,
		))
	}
	s.WriteString(boxStyle.Render(levelContent.String()))
	s.WriteString("\n\n")

	// Run history
	if len(m.history) > 0 {
		s.WriteString(labelStyle.Render("Runs:"))
		s.WriteString("\n")
		historyContent := strings.Builder{}
		first := max(0, len(m.history)-5)
		for i := first; i < len(m.history); i++ {
			h := m.history[i]
			if i > first {
				historyContent.WriteString("\n")
			}
			if h.usable {
				historyContent.WriteString(fmt.Sprintf("#%d %s %s", h.run,
					valueStyle.Render(fmt.Sprintf("%-7s", h.level)),
					fmt.Sprintf("%d%%", h.yield)))
			} else {
				historyContent.WriteString(fmt.Sprintf("#%d %s", h.run, errorStyle.Render(h.outcome)))
			}
		}
		s.WriteString(boxStyle.Render(historyContent.String()))
		s.WriteString("\n\n")
	}

	// Link statistics
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Sent:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.FramesSent)),
		labelStyle.Render("Received:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.FramesReceived)),
		labelStyle.Render("Retries:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.Retries)),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		labelStyle.Render("Checksum Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.ChecksumErrors)),
		labelStyle.Render("Undelivered:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.Undelivered)),
		labelStyle.Render("Frame Rate:"), valueStyle.Render(fmt.Sprintf("%.1f/s", m.stats.FrameRate)),
	))
	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 24
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}

// runRangeTUI runs the range loop behind the terminal UI and returns the
// records of the runs that finished before the user quit
func runRangeTUI(cmd *cobra.Command, s *session, rc rangetest.Config, metrics *rangetest.Metrics) ([]*report.Record, error) {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p := tea.NewProgram(newRangeModel(s, rc, repeatCount))

	go func() {
		err := rangeLoop(ctx, s, rc, metrics, runHooks{
			start:   func(run int) { p.Send(runStartMsg{run: run}) },
			observe: func(ev rangetest.Event) { p.Send(rangeEventMsg{ev: ev}) },
			done: func(res *rangetest.Result, err error, rec *report.Record) {
				p.Send(runDoneMsg{res: res, err: err, rec: rec})
			},
		})
		p.Send(loopDoneMsg{err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("terminal UI failed: %w", err)
	}

	fm, ok := final.(rangeModel)
	if !ok {
		return nil, errors.New("terminal UI returned an unexpected model")
	}
	return fm.records, fm.fatal
}
