package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/joshuapare/eptable/internal/logger"
	"github.com/joshuapare/eptable/internal/workload"
)

// Layout constants
const (
	SummaryPanelHeight = 11 // Header, bars and counters above the cycle log
	MinLogHeight       = 3
)

// progressMsg carries the state after one GC cycle.
type progressMsg workload.Progress

// doneMsg reports the end of the run.
type doneMsg struct {
	report workload.Report
	err    error
}

// Model is the main application model
type Model struct {
	cfg    workload.Config
	keys   KeyMap
	log    *slog.Logger
	events chan tea.Msg
	ctx    context.Context
	cancel context.CancelFunc

	cycleLog viewport.Model
	lines    []string

	last    *workload.Progress
	report  *workload.Report
	err     error
	started time.Time
	elapsed time.Duration

	width    int
	height   int
	showHelp bool
	status   string
}

// NewModel creates the model for one workload run. The run starts with Init.
func NewModel(cfg workload.Config, log *slog.Logger) Model {
	if log == nil {
		log = logger.L
	}
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		cfg:      cfg,
		keys:     DefaultKeyMap(),
		log:      log,
		events:   make(chan tea.Msg, 64),
		ctx:      ctx,
		cancel:   cancel,
		cycleLog: viewport.New(0, 0),
	}
}

// Init starts the workload and waits for its first event.
func (m Model) Init() tea.Cmd {
	m.start()
	return waitForEvent(m.events)
}

// start runs the workload on its own goroutine. Progress is dropped when the
// UI falls behind; the final result is always delivered.
func (m Model) start() {
	go func() {
		report, err := workload.Run(m.ctx, m.cfg, m.log, func(p workload.Progress) {
			select {
			case m.events <- progressMsg(p):
			default:
			}
		})
		m.events <- doneMsg{report: report, err: err}
	}()
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

// Close stops the workload if it is still running.
func (m *Model) Close() {
	m.cancel()
}

// Update handles incoming messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.cycleLog.Width = max(msg.Width-4, 10)
		m.cycleLog.Height = max(msg.Height-SummaryPanelHeight-4, MinLogHeight)
		m.refreshLog()
		return m, nil

	case progressMsg:
		p := workload.Progress(msg)
		if m.started.IsZero() {
			m.started = time.Now()
		}
		m.last = &p
		m.elapsed = time.Since(m.started)
		m.appendLine(cycleLine(p))
		return m, waitForEvent(m.events)

	case doneMsg:
		m.elapsed = max(m.elapsed, msg.report.Duration)
		if msg.err != nil {
			m.err = msg.err
			m.appendLine(errorStyle.Render("run failed: " + msg.err.Error()))
			return m, nil
		}
		report := msg.report
		m.report = &report
		m.appendLine(successStyle.Render(fmt.Sprintf(
			"done: %d operations, %d cycles, %d values verified",
			report.Operations, report.Cycles, report.Verifications)))
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		if key.Matches(msg, m.keys.Help, m.keys.Esc) {
			m.showHelp = false
			return m, nil
		}
		if !key.Matches(msg, m.keys.Quit) {
			return m, nil
		}
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil
	case key.Matches(msg, m.keys.Copy):
		m.status = m.copyReport()
		return m, nil
	}

	var cmd tea.Cmd
	m.cycleLog, cmd = m.cycleLog.Update(msg)
	return m, cmd
}

// copyReport puts the final report on the clipboard and returns a status
// line.
func (m Model) copyReport() string {
	if m.report == nil {
		return "report not ready yet"
	}
	data, err := json.MarshalIndent(m.report, "", "  ")
	if err != nil {
		return fmt.Sprintf("encode report: %v", err)
	}
	if err := clipboard.WriteAll(string(data)); err != nil {
		m.log.Warn("clipboard write failed", "error", err)
		return fmt.Sprintf("copy failed: %v", err)
	}
	return "report copied to clipboard"
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refreshLog()
	m.cycleLog.GotoBottom()
}

func (m *Model) refreshLog() {
	m.cycleLog.SetContent(strings.Join(m.lines, "\n"))
}

// cycleLine formats one entry of the cycle log.
func cycleLine(p workload.Progress) string {
	label, style := outcome(p.Last)
	return fmt.Sprintf("#%-4d %-20s live %-8d free %-8d capacity %d -> %d  evacuated %d  %v",
		p.Cycle,
		style.Render(label),
		p.Last.Sweep.Live,
		p.Last.Sweep.Free,
		p.Last.Sweep.CapacityBefore,
		p.Last.Sweep.CapacityAfter,
		p.Last.Sweep.Resolved,
		p.Last.Duration.Round(time.Microsecond))
}
