package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	overlay "github.com/rmhubbert/bubbletea-overlay"
)

const barWidth = 30

// View renders the entire UI
func (m Model) View() string {
	if m.showHelp {
		helpOverlay := overlay.New(
			helpBox{keys: m.keys},
			mainView{m: &m},
			overlay.Center,
			overlay.Center,
			0,
			0,
		)
		return helpOverlay.View()
	}
	return m.renderMain()
}

func (m Model) renderMain() string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderHeader(),
		m.renderSummary(),
		paneStyle.Render(m.cycleLog.View()),
		m.renderStatus(),
	)
}

func (m Model) renderHeader() string {
	cfg := fmt.Sprintf("%d mutators x %d ops, block %d, max capacity %d, compaction %v",
		m.cfg.Mutators, m.cfg.Ops, m.cfg.Block, m.cfg.MaxCapacity, m.cfg.Compact)
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		headerStyle.Render("External Pointer Table"),
		"  ",
		configStyle.Render(cfg),
	)
}

func (m Model) renderSummary() string {
	if m.last == nil {
		return paneStyle.Render(mutedStyle.Render("waiting for the first cycle..."))
	}
	p := m.last
	st := p.Stats

	label, style := outcome(p.Last)
	rows := []string{
		row("operations", bar(p.OpsDone, p.OpsTotal)+fmt.Sprintf(" %d/%d", p.OpsDone, p.OpsTotal)),
		row("capacity", bar(int(st.Capacity-st.FreelistSize), int(st.Capacity))+
			fmt.Sprintf(" %d used of %d", st.Capacity-st.FreelistSize, st.Capacity)),
		row("cycles", fmt.Sprintf("%d", p.Cycle)),
		row("last cycle", style.Render(label)),
		row("live handles", fmt.Sprintf("%d", p.Live)),
		row("grows", fmt.Sprintf("%d", st.Grows)),
		row("compactions", fmt.Sprintf("%d (%d aborted)", st.Compactions, st.CompactionAborts)),
		row("evacuations", fmt.Sprintf("%d", st.Evacuations)),
		row("elapsed", m.elapsed.Round(time.Millisecond).String()),
	}
	return paneStyle.Render(strings.Join(rows, "\n"))
}

func (m Model) renderStatus() string {
	var state string
	switch {
	case m.err != nil:
		state = errorStyle.Render("failed")
	case m.report != nil:
		state = successStyle.Render("finished")
	default:
		state = "running"
	}
	line := state + "  ? help  y copy report  q quit"
	if m.status != "" {
		line += "  | " + m.status
	}
	return statusStyle.Render(line)
}

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

// bar draws a filled proportion of done/total.
func bar(done, total int) string {
	filled := 0
	if total > 0 {
		filled = min(done*barWidth/total, barWidth)
	}
	return barFilledStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", barWidth-filled))
}

// mainView lets the overlay draw the main screen as its background.
type mainView struct {
	m *Model
}

func (v mainView) Init() tea.Cmd                       { return nil }
func (v mainView) Update(tea.Msg) (tea.Model, tea.Cmd) { return v, nil }
func (v mainView) View() string                        { return v.m.renderMain() }

// helpBox is the foreground of the help overlay.
type helpBox struct {
	keys KeyMap
}

func (h helpBox) Init() tea.Cmd                       { return nil }
func (h helpBox) Update(tea.Msg) (tea.Model, tea.Cmd) { return h, nil }

func (h helpBox) View() string {
	lines := []string{helpTitleStyle.Render("Keyboard Shortcuts")}
	for _, b := range h.keys.bindings() {
		help := b.Help()
		lines = append(lines, helpKeyStyle.Render(help.Key)+help.Desc)
	}
	lines = append(lines, "", mutedStyle.Render("esc or ? to close"))
	return helpBoxStyle.Render(strings.Join(lines, "\n"))
}
