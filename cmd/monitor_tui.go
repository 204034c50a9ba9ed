// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/dmxstat/pkg/dmx"
	"github.com/Thermoquad/dmxstat/pkg/rdm"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// TUI model
type model struct {
	connInfo      string
	statsInterval int
	showAll       bool
	started       time.Time
	dmxStats      dmx.Statistics
	rdmStats      *rdm.Statistics
	startCode     byte
	levels        []byte
	first         int
	count         int
	bar           progress.Model
	errorLog      []errorLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type frameMsg struct {
	startCode byte
	slots     []byte
}
type captureMsg struct {
	capture capture
}
type statsMsg struct {
	stats dmx.Statistics
}

// formatDuration formats an elapsed time as a human-friendly string
func formatDuration(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds <= 0 {
		return "0 seconds"
	}

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
	if seconds > 0 {
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

func initialModel(connInfo string, statsInterval int, showAll bool, first, count int) model {
	if first+count-1 > dmx.MaxSlots {
		count = dmx.MaxSlots - first + 1
	}
	return model{
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		started:       time.Now(),
		rdmStats:      rdm.NewStatistics(),
		first:         first,
		count:         count,
		bar:           progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(40)),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
		m.bar.Width = max(10, min(60, m.width-30))

	case tickMsg:
		m.rdmStats.CalculateRates()
		return m, tickCmd()

	case frameMsg:
		m.startCode = msg.startCode
		m.levels = msg.slots

	case statsMsg:
		for _, e := range diffStatistics(m.dmxStats, msg.stats) {
			m.addLogEntry(e.message, e.isError)
		}
		m.dmxStats = msg.stats

	case captureMsg:
		for _, e := range captureEvents(msg.capture, m.rdmStats, m.showAll) {
			m.addLogEntry(e.message, e.isError)
		}
	}

	return m, nil
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

// level returns the value of channel ch from the last frame.
func (m model) level(ch int) (byte, bool) {
	if ch < 1 || ch > len(m.levels) {
		return 0, false
	}
	return m.levels[ch-1], true
}

func (m model) View() string {
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

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
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
	s.WriteString(titleStyle.Render("DMXSTAT - LINE MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | Up %s | Press 'q' to quit",
		m.connInfo, func() string {
			if m.showAll {
				return "All packets"
			}
			return "Errors only"
		}(), formatDuration(time.Since(m.started)))))
	s.WriteString("\n\n")

	// Signal status
	if !m.dmxStats.Active {
		s.WriteString(warningStyle.Render("⏳ No signal"))
	} else {
		s.WriteString(statsValueStyle.Render("✓ Receiving"))
		s.WriteString(headerStyle.Render(fmt.Sprintf(" (start code 0x%02X)", m.startCode)))
	}
	s.WriteString("\n\n")

	// Statistics
	d := m.dmxStats
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", d.Frames)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%d Hz", d.UpdatesPerSecond)),
		statsLabelStyle.Render("Slots:"), statsValueStyle.Render(fmt.Sprintf("%d", d.SlotsInLastPacket)),
	))
	if d.LastPeriod > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Period:"), statsValueStyle.Render(fmt.Sprintf("%.2f ms", float64(d.LastPeriod)/float64(time.Millisecond))),
		))
	}
	if d.TimingViolations > 0 || d.Overruns > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Timing Errors:"), errorStyle.Render(fmt.Sprintf("%d", d.TimingViolations)),
			statsLabelStyle.Render("Overruns:"), errorStyle.Render(fmt.Sprintf("%d", d.Overruns)),
		))
	}

	r := m.rdmStats
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("RDM:"), statsValueStyle.Render(fmt.Sprintf("%d", r.TotalPackets)),
		statsLabelStyle.Render("Errors:"), func() string {
			if r.ErrorCount() > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", r.ErrorCount()))
			}
			return statsValueStyle.Render("0")
		}(),
		statsLabelStyle.Render("Packet Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f pkts/s", r.PacketRate)),
	))
	if r.Nacks > 0 || r.DUBReplies > 0 {
		statsContent.WriteString(fmt.Sprintf("\n%s %s   %s %s",
			statsLabelStyle.Render("NACKs:"), warningStyle.Render(fmt.Sprintf("%d", r.Nacks)),
			statsLabelStyle.Render("DUB Replies:"), statsValueStyle.Render(fmt.Sprintf("%d", r.DUBReplies)),
		))
	}

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Channel levels
	s.WriteString(statsLabelStyle.Render(fmt.Sprintf("Channels %d-%d:", m.first, m.first+m.count-1)))
	s.WriteString("\n")
	levelContent := strings.Builder{}
	for ch := m.first; ch < m.first+m.count; ch++ {
		v, ok := m.level(ch)
		value := headerStyle.Render("  -")
		if ok {
			value = statsValueStyle.Render(fmt.Sprintf("%3d", v))
		}
		levelContent.WriteString(fmt.Sprintf("%s %s %s",
			headerStyle.Render(fmt.Sprintf("%3d", ch)), m.bar.ViewAs(float64(v)/255), value))
		if ch < m.first+m.count-1 {
			levelContent.WriteString("\n")
		}
	}
	s.WriteString(boxStyle.Render(levelContent.String()))
	s.WriteString("\n\n")

	// Error log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 18 - m.count
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
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
