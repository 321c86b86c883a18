// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"timbre/internal/analysis"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	// DefaultMeterAlpha is the weight of each new frame in the displayed
	// values. The analysis core does no smoothing of its own.
	DefaultMeterAlpha = 0.3

	meterRefresh = 50 * time.Millisecond
	labelWidth   = 12
)

var (
	labelStyle = lipgloss.NewStyle().Width(labelWidth)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0A0A0"))
	keyReset   = key.NewBinding(key.WithKeys("r"))
)

// Feed supplies the latest record. frameloop.Loop implements it.
type Feed interface {
	Latest() analysis.Record
	Reset()
}

type tickMsg time.Time

// meterRow is one displayed feature: its index into Record.Scalars and the
// divisor that maps it onto [0,1].
type meterRow struct {
	label string
	index int
	unit  string
	scale float64
}

// MeterModel shows the live features as bars.
type MeterModel struct {
	feed     Feed
	rows     []meterRow
	alpha    float64
	smoothed [analysis.NumScalars]float64
	primed   bool
	bar      progress.Model
	ticks    int
}

// NewMeterModel polls feed; sampleRate scales the frequency rows.
func NewMeterModel(feed Feed, sampleRate float64) MeterModel {
	nyquist := sampleRate / 2
	if !(nyquist > 0) {
		nyquist = 1
	}
	return MeterModel{
		feed:  feed,
		alpha: DefaultMeterAlpha,
		rows: []meterRow{
			{"RMS", 0, "", 1},
			{"Peak", 1, "", 1},
			{"Centroid", 2, "Hz", nyquist},
			{"Spread", 3, "Hz", nyquist},
			{"Entropy", 5, "", 1},
			{"Tonality", 6, "", 1},
			{"Pitch", 7, "Hz", analysis.MaxPitchHz},
			{"AM", 8, "", 1},
			{"FM", 9, "", 1},
		},
		bar: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(40)),
	}
}

// Smooth applies one step of exponential smoothing.
func Smooth(prev, next, alpha float64) float64 {
	return prev + alpha*(next-prev)
}

func tick() tea.Cmd {
	return tea.Tick(meterRefresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m MeterModel) Init() tea.Cmd {
	return tick()
}

// observe folds rec into the displayed values. The first frame after a
// reset is taken as-is.
func (m *MeterModel) observe(rec analysis.Record) {
	values := rec.Scalars()
	if !m.primed {
		m.smoothed = values
		m.primed = true
		return
	}
	for i, v := range values {
		m.smoothed[i] = Smooth(m.smoothed[i], v, m.alpha)
	}
}

func (m MeterModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(msg.Width-labelWidth-16, 10)

	case tickMsg:
		m.observe(m.feed.Latest())
		m.ticks++
		return m, tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keyQuit):
			return m, tea.Quit
		case key.Matches(msg, keyReset):
			m.feed.Reset()
			m.primed = false
		}
	}
	return m, nil
}

func (m MeterModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("timbre"))
	sb.WriteString("\n\n")

	for _, row := range m.rows {
		v := m.smoothed[row.index]
		fraction := min(max(v/row.scale, 0), 1)

		value := fmt.Sprintf("%.3f", v)
		if row.unit != "" {
			value = fmt.Sprintf("%.0f %s", v, row.unit)
		}
		sb.WriteString(labelStyle.Render(row.label))
		sb.WriteString(m.bar.ViewAs(fraction))
		sb.WriteString(" ")
		sb.WriteString(valueStyle.Render(value))
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\n%s%s\n", labelStyle.Render("Flux"), valueStyle.Render(fmt.Sprintf("%.3f", m.smoothed[4])))
	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render("r: Reset session • q: Quit"))
	return sb.String()
}

// RunMeter blocks until the user quits or ctx is cancelled.
func RunMeter(ctx context.Context, feed Feed, sampleRate float64) error {
	p := tea.NewProgram(NewMeterModel(feed, sampleRate), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) && !errors.Is(err, tea.ErrInterrupted) {
		return err
	}
	return nil
}
